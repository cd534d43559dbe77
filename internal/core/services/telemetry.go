package services

import (
	"time"

	"chathub/internal/core/domain"
)

// LatencyWindow is the number of latency samples kept per peer.
const LatencyWindow = 100

// PeerStats accumulates the counters of one peer. Like Outbox it relies on
// the Registry lock.
type PeerStats struct {
	Sent              uint64
	Received          uint64
	Acks              uint64
	Retransmissions   uint64
	PacketLoss        uint64
	Duplicates        uint64
	SimulatedDrops    uint64
	EncryptedMessages uint64

	samples [LatencyWindow]float64
	count   int
	next    int
}

func NewPeerStats() *PeerStats {
	return &PeerStats{}
}

// RecordLatency adds one sample in milliseconds, evicting the oldest once
// the window is full. Negative samples (clock skew) are ignored.
func (s *PeerStats) RecordLatency(ms float64) {
	if ms < 0 {
		return
	}
	s.samples[s.next] = ms
	s.next = (s.next + 1) % LatencyWindow
	if s.count < LatencyWindow {
		s.count++
	}
}

// Latencies returns the samples oldest first.
func (s *PeerStats) Latencies() []float64 {
	out := make([]float64, 0, s.count)
	start := 0
	if s.count == LatencyWindow {
		start = s.next
	}
	for i := 0; i < s.count; i++ {
		out = append(out, s.samples[(start+i)%LatencyWindow])
	}
	return out
}

// SnapshotMeta carries the per-side values echoed in every snapshot.
type SnapshotMeta struct {
	Nickname           domain.Nickname
	ConnectedAt        time.Time
	Protocol           domain.Transport
	Policy             DeliveryPolicy
	ConfiguredLossRate float64
	SSLEnabled         bool
	Pending            int
}

// Snapshot derives aggregates from the raw counters.
func (s *PeerStats) Snapshot(meta SnapshotMeta) domain.StatsSnapshot {
	snap := domain.StatsSnapshot{
		Nickname:           meta.Nickname,
		ConnectedAt:        meta.ConnectedAt,
		SentCount:          s.Sent,
		ReceivedCount:      s.Received,
		AckCount:           s.Acks,
		Retransmissions:    s.Retransmissions,
		PacketLoss:         s.PacketLoss,
		Duplicates:         s.Duplicates,
		SimulatedDrops:     s.SimulatedDrops,
		EncryptedMessages:  s.EncryptedMessages,
		LatencySamples:     s.Latencies(),
		PendingMessages:    meta.Pending,
		ConfiguredLossRate: meta.ConfiguredLossRate,
		AckTimeout:         meta.Policy.AckTimeout,
		MaxRetries:         meta.Policy.MaxRetries,
		Protocol:           meta.Protocol,
		SSLEnabled:         meta.SSLEnabled,
	}

	if n := len(snap.LatencySamples); n > 0 {
		minL, maxL, sum := snap.LatencySamples[0], snap.LatencySamples[0], 0.0
		for _, v := range snap.LatencySamples {
			sum += v
			if v < minL {
				minL = v
			}
			if v > maxL {
				maxL = v
			}
		}
		snap.AvgLatency = sum / float64(n)
		snap.MinLatency = minL
		snap.MaxLatency = maxL
	}

	snap.PacketLossRate = ratio(s.PacketLoss, s.Sent)
	snap.DuplicateRate = ratio(s.Duplicates, s.Received)
	return snap
}

func ratio(num, den uint64) float64 {
	if den == 0 {
		return 0
	}
	r := float64(num) / float64(den)
	if r > 1 {
		return 1
	}
	return r
}
