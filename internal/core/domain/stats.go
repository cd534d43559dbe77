package domain

import "time"

// StatsSnapshot is a point-in-time copy of one peer's counters.
// Latencies are in milliseconds; rates are fractions in [0, 1].
type StatsSnapshot struct {
	Nickname    Nickname  `json:"nickname"`
	ConnectedAt time.Time `json:"connected_at"`

	SentCount         uint64 `json:"sent_count"`
	ReceivedCount     uint64 `json:"received_count"`
	AckCount          uint64 `json:"ack_count"`
	Retransmissions   uint64 `json:"retransmissions"`
	PacketLoss        uint64 `json:"packet_loss"`
	Duplicates        uint64 `json:"duplicates"`
	SimulatedDrops    uint64 `json:"simulated_drops"`
	EncryptedMessages uint64 `json:"encrypted_messages"`

	LatencySamples []float64 `json:"latency_samples"`
	AvgLatency     float64   `json:"avg_latency"`
	MinLatency     float64   `json:"min_latency"`
	MaxLatency     float64   `json:"max_latency"`

	PacketLossRate float64 `json:"packet_loss_rate"`
	DuplicateRate  float64 `json:"duplicate_rate"`

	PendingMessages    int           `json:"pending_messages"`
	ConfiguredLossRate float64       `json:"configured_loss_rate"`
	AckTimeout         time.Duration `json:"ack_timeout"`
	MaxRetries         int           `json:"max_retries"`
	Protocol           Transport     `json:"protocol"`
	SSLEnabled         bool          `json:"ssl_enabled"`
}
