package monitoring

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

// AddListenerCheck reports unhealthy until addr returns a bound address.
func (h *HealthChecker) AddListenerCheck(name string, addr func() net.Addr, interval, timeout time.Duration) {
	h.AddCheck(name, func(context.Context) (bool, error) {
		if addr() == nil {
			return false, errors.New("not listening")
		}
		return true, nil
	}, interval, timeout)
}

// AddConnectionCheck reports unhealthy while a client has no server.
func (h *HealthChecker) AddConnectionCheck(name string, connected func() bool, interval, timeout time.Duration) {
	h.AddCheck(name, func(context.Context) (bool, error) {
		if !connected() {
			return false, errors.New("not connected")
		}
		return true, nil
	}, interval, timeout)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.checks {
		healthy, err := runCheck(ctx, check)
		switch {
		case err != nil:
			status.Status = StatusUnhealthy
			status.Checks[check.Name] = err.Error()
		case !healthy:
			status.Status = StatusUnhealthy
			status.Checks[check.Name] = "check failed"
		default:
			status.Checks[check.Name] = StatusHealthy
		}
	}

	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}

func runCheck(ctx context.Context, check HealthCheck) (bool, error) {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}
	return check.Check(ctx)
}

// StartBackgroundChecks runs every check on its own interval until ctx is
// done. Results go to report, which may be nil.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context, report func(name string, healthy bool, err error)) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	for _, check := range checks {
		if check.Interval <= 0 {
			continue
		}
		go h.runCheckPeriodically(ctx, check, report)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck, report func(string, bool, error)) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy, err := runCheck(ctx, check)
			if report != nil {
				report(check.Name, healthy, err)
			}
		}
	}
}
