// Package transport holds what the stream and datagram sides share:
// options, the payload envelope and goroutine lifecycle.
package transport

import (
	"time"

	"go.uber.org/zap"

	"chathub/internal/core/ports"
	"chathub/internal/core/services"
	"chathub/pkg/crypto"
)

const (
	DefaultReadTimeout      = time.Second
	DefaultBufferSize       = 2048
	DefaultHandshakeTimeout = 10 * time.Second

	// ServerPrefix marks messages typed by the server operator.
	ServerPrefix = "[SERVER]: "
)

// Options configures one side of either transport.
type Options struct {
	Policy services.DeliveryPolicy
	// Codec seals datagram payloads. Nil disables payload encryption.
	Codec   *crypto.Codec
	Loss    ports.LossSimulator
	Limiter ports.InboundLimiter
	Metrics ports.MetricsRecorder
	Logger  *zap.Logger

	// ReadTimeout bounds every blocking read so loops observe shutdown.
	ReadTimeout      time.Duration
	BufferSize       int
	HandshakeTimeout time.Duration
}

// WithDefaults fills every zero field.
func (o Options) WithDefaults() Options {
	def := services.DefaultDeliveryPolicy()
	if o.Policy.AckTimeout <= 0 {
		o.Policy.AckTimeout = def.AckTimeout
	}
	if o.Policy.MaxRetries < 0 {
		o.Policy.MaxRetries = def.MaxRetries
	}
	if o.Policy.SweepInterval <= 0 {
		o.Policy.SweepInterval = def.SweepInterval
	}
	if o.Loss == nil {
		o.Loss = services.NoLoss{}
	}
	if o.Metrics == nil {
		o.Metrics = services.NopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return o
}

// Allow consults the limiter, if any.
func (o Options) Allow(key string) bool {
	return o.Limiter == nil || o.Limiter.Allow(key)
}

// Forget releases limiter state for key.
func (o Options) Forget(key string) {
	if o.Limiter != nil {
		o.Limiter.Forget(key)
	}
}
