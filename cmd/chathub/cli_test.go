package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/core/services"
	"chathub/internal/handlers/ws"
	"chathub/internal/infrastructure/tlsconfig"
)

type sent struct {
	target domain.Nickname
	text   string
}

type fakeSide struct {
	mu    sync.Mutex
	peers []domain.Nickname
	sent  []sent
	fail  bool
	hub   *services.Hub
}

func (f *fakeSide) Start(context.Context) error { return nil }

func (f *fakeSide) Send(_ context.Context, target domain.Nickname, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false
	}
	f.sent = append(f.sent, sent{target, text})
	return true
}

func (f *fakeSide) Disconnect() {}

func (f *fakeSide) Stats(target domain.Nickname) *domain.StatsSnapshot {
	if target != "alice" {
		return nil
	}
	return &domain.StatsSnapshot{Nickname: "alice", SentCount: 3}
}

func (f *fakeSide) Peers() []domain.Nickname { return f.peers }

func (f *fakeSide) Conversation(domain.Nickname) []domain.ConversationEntry { return nil }

func (f *fakeSide) Events() ports.EventSource { return f.hub }

func (f *fakeSide) Transport() domain.Transport { return domain.TransportTCP }

func (f *fakeSide) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	tests := []struct {
		name  string
		event ws.Event
		want  string
	}{
		{"log", ws.Event{Type: ws.EventLog, Log: &domain.LogEvent{Time: at, Level: domain.LevelSuccess, Message: "alice connected"}}, "15:04:05 [SUCCESS] alice connected"},
		{"peers", ws.Event{Type: ws.EventPeers, Peers: []domain.Nickname{"alice", "bob"}}, "peers: alice, bob"},
		{"no peers", ws.Event{Type: ws.EventPeers}, "peers: (none)"},
		{"conversation", ws.Event{Type: ws.EventConversation}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.event))
		})
	}
}

func TestConsole_Commands(t *testing.T) {
	side := &fakeSide{peers: []domain.Nickname{"alice", "bob"}}
	var out bytes.Buffer
	con := &console{side: side, out: &out}

	input := strings.Join([]string{
		"@alice hello there",
		"no target",
		"/peers",
		"/stats alice",
		"/stats carol",
		"/bogus",
		"",
		"/quit",
		"@bob never sent",
	}, "\n")
	require.NoError(t, con.run(context.Background(), strings.NewReader(input)))

	assert.Equal(t, []sent{{"alice", "hello there"}}, side.messages())
	text := out.String()
	assert.Contains(t, text, "use @<nickname> <text>")
	assert.Contains(t, text, "peers: alice, bob")
	assert.Contains(t, text, `"sent_count": 3`)
	assert.Contains(t, text, `no statistics for "carol"`)
	assert.Contains(t, text, `unknown command "/bogus"`)
}

func TestConsole_SinglePeer(t *testing.T) {
	side := &fakeSide{peers: []domain.Nickname{domain.ServerPeer}}
	var out bytes.Buffer
	con := &console{side: side, out: &out}

	require.NoError(t, con.run(context.Background(), strings.NewReader("hi\n")))
	assert.Equal(t, []sent{{domain.ServerPeer, "hi"}}, side.messages())

	side.fail = true
	require.NoError(t, con.run(context.Background(), strings.NewReader("again\n")))
	assert.Contains(t, out.String(), "message to server not sent")
}

func TestConsole_StopsOnCancel(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- (&console{side: &fakeSide{}, out: &bytes.Buffer{}}).run(ctx, r)
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}

func TestPrintEvents(t *testing.T) {
	events := make(chan ws.Event, 2)
	events <- ws.Event{Type: ws.EventPeers, Peers: []domain.Nickname{"alice"}}
	events <- ws.Event{Type: ws.EventConversation}
	close(events)

	var out bytes.Buffer
	printEvents(&out, events)
	assert.Equal(t, "peers: alice\n", out.String())
}

func TestCertgenCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"certgen", "--output", dir, "--name", "test", "--days", "1"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	certPath := filepath.Join(dir, "test.cert")
	keyPath := filepath.Join(dir, "test.key")
	assert.Contains(t, out.String(), certPath)

	_, err := tlsconfig.LoadCertificate(certPath, keyPath)
	assert.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "chathub version dev")
}
