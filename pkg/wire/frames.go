// Package wire encodes and parses the text frames exchanged by chat peers.
//
// Datagram frames:
//
//	MSG:<id>:<unix-seconds>:<text>
//	ACK:<id>
//	DISCONNECT:<nickname>
//	<nickname>                       identity announcement
//
// Stream frames are "<text>|TS:<unix-seconds>|" after a NICK handshake.
package wire

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	PrefixData       = "MSG:"
	PrefixAck        = "ACK:"
	PrefixDisconnect = "DISCONNECT:"

	// NickPrompt is the first thing a stream server writes to a new peer.
	NickPrompt = "NICK"
	// RefusalPrefix starts the notice sent before a stream server closes a
	// connection whose nickname it rejected.
	RefusalPrefix = "Connection refused: "
)

var (
	// ErrMalformedFrame means the frame kind was recognized but its fields
	// could not be parsed.
	ErrMalformedFrame = errors.New("wire: malformed frame")

	// ErrUnknownFrame means the payload carries nothing recognizable.
	ErrUnknownFrame = errors.New("wire: unknown frame")
)

// Kind identifies a frame type.
type Kind int

const (
	KindUnknown Kind = iota
	KindData
	KindAck
	KindDisconnect
	KindNick
	// KindIdentity is any other non-empty text. Only meaningful as the first
	// datagram from an unknown address.
	KindIdentity
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindDisconnect:
		return "disconnect"
	case KindNick:
		return "nick"
	case KindIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// Frame is a parsed datagram.
type Frame struct {
	Kind   Kind
	ID     uint64
	SentAt time.Time
	// Text is the chat body for data frames, the nickname for identity and
	// disconnect frames.
	Text string
}

// EncodeData builds a data frame.
func EncodeData(id uint64, sentAt time.Time, text string) string {
	return PrefixData + strconv.FormatUint(id, 10) + ":" + FormatTimestamp(sentAt) + ":" + text
}

// EncodeAck builds an acknowledgment frame.
func EncodeAck(id uint64) string {
	return PrefixAck + strconv.FormatUint(id, 10)
}

// EncodeDisconnect builds a disconnect notice.
func EncodeDisconnect(nickname string) string {
	return PrefixDisconnect + nickname
}

// ParseDatagram classifies a decrypted datagram payload. Data frames split
// on at most three colons so the text may contain any character.
func ParseDatagram(payload string) (Frame, error) {
	switch {
	case strings.HasPrefix(payload, PrefixData):
		parts := strings.SplitN(payload, ":", 4)
		if len(parts) < 4 {
			return Frame{Kind: KindData}, fmt.Errorf("%w: data frame has %d fields", ErrMalformedFrame, len(parts))
		}
		id, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return Frame{Kind: KindData}, fmt.Errorf("%w: bad message id %q", ErrMalformedFrame, parts[1])
		}
		sentAt, err := ParseTimestamp(parts[2])
		if err != nil {
			return Frame{Kind: KindData, ID: id}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return Frame{Kind: KindData, ID: id, SentAt: sentAt, Text: parts[3]}, nil

	case strings.HasPrefix(payload, PrefixAck):
		raw := payload[len(PrefixAck):]
		if i := strings.IndexByte(raw, ':'); i >= 0 {
			raw = raw[:i]
		}
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Frame{Kind: KindAck}, fmt.Errorf("%w: bad ack id %q", ErrMalformedFrame, raw)
		}
		return Frame{Kind: KindAck, ID: id}, nil

	case strings.HasPrefix(payload, PrefixDisconnect):
		return Frame{Kind: KindDisconnect, Text: payload[len(PrefixDisconnect):]}, nil

	case payload == NickPrompt:
		return Frame{Kind: KindNick}, nil
	}

	nick := strings.TrimSpace(payload)
	if nick == "" {
		return Frame{}, ErrUnknownFrame
	}
	return Frame{Kind: KindIdentity, Text: nick}, nil
}

// FormatTimestamp renders t as Unix seconds with microsecond precision.
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// ParseTimestamp parses Unix seconds given as a decimal float.
func ParseTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)), nil
}

// SplitSender strips a leading "<nickname>: " prefix from chat text.
func SplitSender(text, nickname string) string {
	return strings.TrimPrefix(text, nickname+": ")
}

// WithSender prefixes chat text with "<nickname>: ".
func WithSender(nickname, text string) string {
	return nickname + ": " + text
}
