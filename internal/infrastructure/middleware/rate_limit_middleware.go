package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"chathub/internal/core/ports"
	"chathub/pkg/config"
	"chathub/pkg/errors"
)

// RateLimiterStore keeps one token bucket per key: a client IP for the
// admin API, a peer endpoint for chat frames.
type RateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
}

var _ ports.InboundLimiter = (*RateLimiterStore)(nil)

func NewRateLimiterStore(r rate.Limit, burst int) *RateLimiterStore {
	return &RateLimiterStore{
		limiters:  make(map[string]*rate.Limiter),
		rate:      r,
		burstSize: burst,
	}
}

func (s *RateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(s.rate, s.burstSize)
		s.limiters[key] = limiter
	}
	return limiter
}

func (s *RateLimiterStore) Allow(key string) bool {
	return s.getLimiter(key).Allow()
}

// Forget drops the bucket of a departed peer.
func (s *RateLimiterStore) Forget(key string) {
	s.mu.Lock()
	delete(s.limiters, key)
	s.mu.Unlock()
}

func (s *RateLimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// NewPeerRateLimiter returns the inbound frame limiter for chat sides, or
// nil when rate limiting is disabled.
func NewPeerRateLimiter(cfg *config.Config) ports.InboundLimiter {
	if !cfg.RateLimiting.Enabled {
		return nil
	}
	return NewRateLimiterStore(rate.Limit(cfg.RateLimiting.Peer.MessagesPerSecond), cfg.RateLimiting.Peer.Burst)
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	// Try X-Forwarded-For first (behind proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := NewRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	return func(c *gin.Context) {
		if !store.Allow(clientIP(c.Request)) {
			appErr := errors.NewRateLimitError()
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return
		}
		c.Next()
	}
}
