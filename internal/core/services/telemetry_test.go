package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chathub/internal/core/domain"
)

func TestPeerStats_EmptySnapshot(t *testing.T) {
	snap := NewPeerStats().Snapshot(SnapshotMeta{Protocol: domain.TransportUDP})

	assert.Empty(t, snap.LatencySamples)
	assert.Zero(t, snap.AvgLatency)
	assert.Zero(t, snap.MinLatency)
	assert.Zero(t, snap.MaxLatency)
	assert.Zero(t, snap.PacketLossRate)
	assert.Zero(t, snap.DuplicateRate)
	assert.Equal(t, domain.TransportUDP, snap.Protocol)
}

func TestPeerStats_LatencyWindow(t *testing.T) {
	s := NewPeerStats()
	for i := 1; i <= LatencyWindow+20; i++ {
		s.RecordLatency(float64(i))
	}

	samples := s.Latencies()
	require.Len(t, samples, LatencyWindow)
	// Oldest 20 evicted, order preserved.
	assert.Equal(t, 21.0, samples[0])
	assert.Equal(t, float64(LatencyWindow+20), samples[len(samples)-1])

	snap := s.Snapshot(SnapshotMeta{})
	assert.Equal(t, 21.0, snap.MinLatency)
	assert.Equal(t, 120.0, snap.MaxLatency)
	assert.InDelta(t, 70.5, snap.AvgLatency, 1e-9)
}

func TestPeerStats_NegativeLatencyIgnored(t *testing.T) {
	s := NewPeerStats()
	s.RecordLatency(-3)
	s.RecordLatency(4)
	assert.Equal(t, []float64{4}, s.Latencies())
}

func TestPeerStats_Consistency(t *testing.T) {
	s := NewPeerStats()
	s.Sent = 10
	s.PacketLoss = 2
	s.Received = 4
	s.Duplicates = 1
	s.RecordLatency(10)
	s.RecordLatency(30)

	policy := testPolicy()
	snap := s.Snapshot(SnapshotMeta{
		Nickname:           "alice",
		Policy:             policy,
		ConfiguredLossRate: 0.3,
		SSLEnabled:         true,
		Pending:            3,
	})

	assert.InDelta(t, 0.2, snap.PacketLossRate, 1e-9)
	assert.InDelta(t, 0.25, snap.DuplicateRate, 1e-9)
	assert.True(t, snap.MinLatency <= snap.AvgLatency && snap.AvgLatency <= snap.MaxLatency)
	assert.LessOrEqual(t, len(snap.LatencySamples), LatencyWindow)
	assert.Equal(t, 3, snap.PendingMessages)
	assert.Equal(t, 0.3, snap.ConfiguredLossRate)
	assert.Equal(t, 2*time.Second, snap.AckTimeout)
	assert.Equal(t, 5, snap.MaxRetries)
	assert.True(t, snap.SSLEnabled)
	assert.Equal(t, domain.Nickname("alice"), snap.Nickname)
}

func TestPeerStats_RatesClamped(t *testing.T) {
	s := NewPeerStats()
	s.Received = 1
	s.Duplicates = 5

	assert.Equal(t, 1.0, s.Snapshot(SnapshotMeta{}).DuplicateRate)
}

func TestPeerStats_SnapshotIsCopy(t *testing.T) {
	s := NewPeerStats()
	s.RecordLatency(1)
	snap := s.Snapshot(SnapshotMeta{})
	snap.LatencySamples[0] = 999

	assert.Equal(t, []float64{1}, s.Latencies())
}
