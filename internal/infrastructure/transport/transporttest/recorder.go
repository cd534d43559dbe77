// Package transporttest provides helpers for loopback tests of chat sides.
package transporttest

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/core/services"
	"chathub/internal/infrastructure/transport"
)

const (
	WaitFor = 5 * time.Second
	Tick    = 10 * time.Millisecond
)

// Options returns fast timings suitable for loopback tests.
func Options(t *testing.T) transport.Options {
	return transport.Options{
		Policy: services.DeliveryPolicy{
			AckTimeout:    200 * time.Millisecond,
			MaxRetries:    5,
			SweepInterval: 20 * time.Millisecond,
		},
		Logger:           zaptest.NewLogger(t),
		ReadTimeout:      50 * time.Millisecond,
		HandshakeTimeout: 2 * time.Second,
	}
}

// Recorder accumulates everything drained from an EventSource.
type Recorder struct {
	src ports.EventSource

	mu    sync.Mutex
	logs  []domain.LogEvent
	peers [][]domain.Nickname
}

func NewRecorder(src ports.EventSource) *Recorder {
	return &Recorder{src: src}
}

func (r *Recorder) poll() {
	logs := r.src.DrainLogs()
	peers := r.src.DrainPeerLists()
	r.src.DrainConversations()

	r.mu.Lock()
	r.logs = append(r.logs, logs...)
	r.peers = append(r.peers, peers...)
	r.mu.Unlock()
}

// Count returns how many events at level contain substr.
func (r *Recorder) Count(level domain.LogLevel, substr string) int {
	r.poll()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.logs {
		if e.Level == level && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

func (r *Recorder) Has(level domain.LogLevel, substr string) bool {
	return r.Count(level, substr) > 0
}

// PeerLists returns every published peer list so far.
func (r *Recorder) PeerLists() [][]domain.Nickname {
	r.poll()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]domain.Nickname(nil), r.peers...)
}

// WaitLog fails the test unless an event at level containing substr shows
// up in time.
func (r *Recorder) WaitLog(t *testing.T, level domain.LogLevel, substr string) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Has(level, substr) }, WaitFor, Tick,
		"no %s event containing %q", level, substr)
}

// WaitPeers waits until side reports exactly want.
func WaitPeers(t *testing.T, side ports.ChatSide, want ...domain.Nickname) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := side.Peers()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, WaitFor, Tick, "peers never became %v", want)
}

// WaitConversation waits for an entry with the given origin and text.
func WaitConversation(t *testing.T, side ports.ChatSide, nickname domain.Nickname, origin domain.Origin, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return CountEntries(side.Conversation(nickname), origin, text) > 0
	}, WaitFor, Tick, "no %s entry %q for %s", origin, text, nickname)
}

func CountEntries(entries []domain.ConversationEntry, origin domain.Origin, text string) int {
	n := 0
	for _, e := range entries {
		if e.Origin == origin && e.Text == text {
			n++
		}
	}
	return n
}
