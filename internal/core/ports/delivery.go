package ports

import (
	"chathub/internal/core/domain"
	"chathub/pkg/wire"
)

type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// LossSimulator decides whether a datagram frame is dropped on purpose.
// It is only consulted for data and ack frames.
type LossSimulator interface {
	ShouldDrop(dir Direction, kind wire.Kind) bool
	Rate() float64
}

// InboundLimiter caps the frame rate accepted from one peer.
type InboundLimiter interface {
	Allow(key string) bool
	Forget(key string)
}

// MetricsRecorder receives transport counters for export.
type MetricsRecorder interface {
	FrameSent(t domain.Transport, kind wire.Kind)
	FrameReceived(t domain.Transport, kind wire.Kind)
	Retransmission(t domain.Transport)
	PermanentLoss(t domain.Transport, n int)
	Duplicate(t domain.Transport)
	SimulatedDrop(t domain.Transport, dir Direction)
	DecryptFailure(t domain.Transport)
	Latency(t domain.Transport, ms float64)
	PeersActive(t domain.Transport, n int)
}
