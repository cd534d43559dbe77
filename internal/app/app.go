// Package app assembles a chat side, its admin API and its observability
// from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/core/services"
	httphandlers "chathub/internal/handlers/http"
	"chathub/internal/handlers/ws"
	"chathub/internal/infrastructure/middleware"
	"chathub/internal/infrastructure/monitoring"
	"chathub/internal/infrastructure/transport"
	"chathub/internal/infrastructure/transport/datagram"
	"chathub/internal/infrastructure/transport/stream"
	"chathub/pkg/config"
	"chathub/pkg/crypto"
	"chathub/pkg/retry"
	"chathub/pkg/tracing"
)

const (
	defaultEventsInterval = 250 * time.Millisecond
	healthInterval        = 10 * time.Second
	healthTimeout         = 2 * time.Second
)

type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// App owns one chat side plus everything hanging off it.
type App struct {
	cfg  *config.Config
	role Role

	side    ports.ChatSide
	feed    *ws.EventFeed
	metrics *monitoring.PrometheusCollector
	health  *monitoring.HealthChecker
	tracer  *tracing.TracerProvider

	mu      sync.Mutex
	admin   *http.Server
	adminLn net.Listener
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *zap.Logger
}

// BuildOptions translates the reliability, encryption, transport and rate
// limiting sections into transport options. The codec is only built for
// datagram sides; when it cannot be built the side runs unencrypted.
func BuildOptions(cfg *config.Config, protocol string, logger *zap.Logger, metrics ports.MetricsRecorder) transport.Options {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := transport.Options{
		Policy: services.DeliveryPolicy{
			AckTimeout:    cfg.Reliability.AckTimeout,
			MaxRetries:    cfg.Reliability.MaxRetries,
			SweepInterval: cfg.Reliability.SweepInterval,
		},
		Metrics:          metrics,
		Logger:           logger,
		ReadTimeout:      cfg.Transport.ReadTimeout,
		BufferSize:       cfg.Transport.BufferSize,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		Limiter:          middleware.NewPeerRateLimiter(cfg),
	}

	if cfg.Reliability.LossRate > 0 {
		opts.Loss = services.NewRandomLoss(cfg.Reliability.LossRate)
	}

	if protocol == config.ProtocolUDP && cfg.Encryption.Enabled {
		codec, err := crypto.NewCodec(crypto.Config{
			Cipher:     cfg.Encryption.Cipher,
			Passphrase: cfg.Encryption.Passphrase,
			Salt:       cfg.Encryption.Salt,
			Iterations: cfg.Encryption.Iterations,
		})
		if err != nil {
			logger.Warn("encryption unavailable, continuing unencrypted",
				zap.String("cipher", cfg.Encryption.Cipher), zap.Error(err))
		} else {
			opts.Codec = codec
		}
	}
	return opts
}

// DialRetry is the client's connect backoff.
func DialRetry(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Client.ConnectRetries
	if cfg.Client.ConnectBackoff > 0 {
		rc.InitialDelay = cfg.Client.ConnectBackoff
		if rc.MaxDelay < rc.InitialDelay {
			rc.MaxDelay = rc.InitialDelay
		}
	}
	return rc
}

func newApp(cfg *config.Config, role Role, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Tracing.Enabled
	tc.SampleRate = cfg.Tracing.SampleRate
	if cfg.Tracing.ServiceName != "" {
		tc.ServiceName = cfg.Tracing.ServiceName
	}
	if cfg.Tracing.JaegerURL != "" {
		tc.JaegerURL = cfg.Tracing.JaegerURL
	}
	tp, err := tracing.Init(tc)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		role:   role,
		health: monitoring.NewHealthChecker(),
		tracer: tp,
		logger: logger.With(zap.String("role", string(role))),
	}
	if cfg.Monitoring.PrometheusEnabled {
		a.metrics = monitoring.NewPrometheusCollector(nil)
	}
	return a, nil
}

func (a *App) recorder() ports.MetricsRecorder {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

// NewServer builds the server side for cfg.Server.Protocol.
func NewServer(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a, err := newApp(cfg, RoleServer, logger)
	if err != nil {
		return nil, err
	}
	opts := BuildOptions(cfg, cfg.Server.Protocol, a.logger, a.recorder())

	switch cfg.Server.Protocol {
	case config.ProtocolUDP:
		srv := datagram.NewServer(datagram.ServerConfig{Address: cfg.Server.Address}, opts)
		a.health.AddListenerCheck("udp_listener", srv.Addr, healthInterval, healthTimeout)
		a.side = srv
	default:
		srv := stream.NewServer(stream.ServerConfig{
			Address:  cfg.Server.Address,
			TLS:      cfg.Server.TLS.Enabled,
			CertFile: cfg.Server.TLS.CertFile,
			KeyFile:  cfg.Server.TLS.KeyFile,
		}, opts)
		a.health.AddListenerCheck("tcp_listener", srv.Addr, healthInterval, healthTimeout)
		a.side = srv
	}
	a.finish()
	return a, nil
}

// NewClient builds the client side for cfg.Client.Protocol.
func NewClient(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a, err := newApp(cfg, RoleClient, logger)
	if err != nil {
		return nil, err
	}
	opts := BuildOptions(cfg, cfg.Client.Protocol, a.logger, a.recorder())
	nickname := domain.Nickname(cfg.Client.Nickname)

	switch cfg.Client.Protocol {
	case config.ProtocolUDP:
		cl := datagram.NewClient(datagram.ClientConfig{
			Address:  cfg.Client.Address,
			Nickname: nickname,
			Retry:    DialRetry(cfg),
		}, opts)
		a.health.AddConnectionCheck("udp_connection", cl.Connected, healthInterval, healthTimeout)
		a.side = cl
	default:
		cl := stream.NewClient(stream.ClientConfig{
			Address:            cfg.Client.Address,
			Nickname:           nickname,
			TLS:                cfg.Client.TLS.Enabled,
			InsecureSkipVerify: cfg.Client.TLS.InsecureSkipVerify,
			ServerName:         cfg.Client.TLS.ServerName,
			Retry:              DialRetry(cfg),
		}, opts)
		a.health.AddConnectionCheck("tcp_connection", cl.Connected, healthInterval, healthTimeout)
		a.side = cl
	}
	a.finish()
	return a, nil
}

func (a *App) finish() {
	interval := a.cfg.Admin.EventsInterval
	if interval <= 0 {
		interval = defaultEventsInterval
	}
	a.feed = ws.NewEventFeed(a.side.Events(), interval, a.logger)
}

// Start runs the chat side, then the event feed and, when enabled, the
// admin API. A side that fails to start leaves nothing running.
func (a *App) Start(ctx context.Context) error {
	if err := a.side.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.feed.Run(runCtx)
	}()

	a.health.StartBackgroundChecks(runCtx, func(name string, healthy bool, err error) {
		if !healthy {
			a.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
	})

	if a.cfg.Admin.Enabled {
		if err := a.startAdmin(); err != nil {
			a.Shutdown(context.Background())
			return err
		}
	}
	return nil
}

func (a *App) startAdmin() error {
	ln, err := net.Listen("tcp", a.cfg.Admin.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on admin address %s: %w", a.cfg.Admin.Address, err)
	}
	srv := &http.Server{
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.mu.Lock()
	a.admin = srv
	a.adminLn = ln
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("admin API listening", zap.String("address", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin API failed", zap.Error(err))
		}
	}()
	return nil
}

// Router builds the admin API: chat routes, metrics and the event feed.
func (a *App) Router() *gin.Engine {
	sugar := a.logger.Sugar()

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(sugar))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(a.cfg))
	router.Use(middleware.ErrorHandlerMiddleware(sugar))

	httphandlers.NewChatHandler(a.side, a.health).SetupRoutes(router)
	router.GET("/ws/events", a.feed.HandleEvents)

	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	}
	return router
}

// Shutdown disconnects the side, lets the feed publish its final events and
// stops the admin API and the tracer.
func (a *App) Shutdown(ctx context.Context) error {
	a.side.Disconnect()

	a.mu.Lock()
	cancel, admin := a.cancel, a.admin
	a.cancel, a.admin = nil, nil
	a.mu.Unlock()

	var errs []error
	if admin != nil {
		if err := admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
			_ = admin.Close()
		}
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	if err := a.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) Role() Role {
	return a.role
}

func (a *App) Side() ports.ChatSide {
	return a.side
}

func (a *App) Feed() *ws.EventFeed {
	return a.feed
}

func (a *App) Health() *monitoring.HealthChecker {
	return a.health
}

// Metrics is nil when Prometheus export is disabled.
func (a *App) Metrics() *monitoring.PrometheusCollector {
	return a.metrics
}

// AdminAddr is nil until the admin API is listening.
func (a *App) AdminAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adminLn == nil {
		return nil
	}
	return a.adminLn.Addr()
}

// ChatAddr returns the server's bound chat address, or nil for clients.
func (a *App) ChatAddr() net.Addr {
	if l, ok := a.side.(interface{ Addr() net.Addr }); ok {
		return l.Addr()
	}
	return nil
}
