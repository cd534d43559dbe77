package domain

import "time"

type Nickname string

type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

type PeerState int

const (
	PeerConnecting PeerState = iota
	PeerActive
	PeerDisconnected
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerActive:
		return "active"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Peer struct {
	Nickname    Nickname
	SessionID   string
	RemoteAddr  string
	Transport   Transport
	State       PeerState
	ConnectedAt time.Time
}

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

type ConversationEntry struct {
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
	Origin Origin    `json:"origin"`
}

func (e ConversationEntry) IsLocal() bool {
	return e.Origin == OriginLocal
}

// PendingSend is a datagram awaiting acknowledgment. SentAt is reset on
// every retransmission; FirstSentAt is not.
type PendingSend struct {
	ID          uint64
	Payload     []byte
	SentAt      time.Time
	FirstSentAt time.Time
	Retries     int
	Nickname    Nickname
	// Text is released to the conversation log once acknowledged.
	Text string
}

// ServerPeer is the nickname under which a client tracks its one peer.
const ServerPeer Nickname = "server"
