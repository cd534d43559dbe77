package services

import (
	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/pkg/wire"
)

// NopMetrics discards everything.
type NopMetrics struct{}

var _ ports.MetricsRecorder = NopMetrics{}

func (NopMetrics) FrameSent(domain.Transport, wire.Kind)           {}
func (NopMetrics) FrameReceived(domain.Transport, wire.Kind)       {}
func (NopMetrics) Retransmission(domain.Transport)                 {}
func (NopMetrics) PermanentLoss(domain.Transport, int)             {}
func (NopMetrics) Duplicate(domain.Transport)                      {}
func (NopMetrics) SimulatedDrop(domain.Transport, ports.Direction) {}
func (NopMetrics) DecryptFailure(domain.Transport)                 {}
func (NopMetrics) Latency(domain.Transport, float64)               {}
func (NopMetrics) PeersActive(domain.Transport, int)               {}
