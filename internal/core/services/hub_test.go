package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
)

var _ ports.EventSource = (*Hub)(nil)

func TestHub_LogMirrorsToZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hub := NewHub(zap.New(core))

	hub.Log(domain.LevelSuccess, "alice connected", "nickname", "alice")
	hub.Log(domain.LevelWarning, "simulated drop")
	hub.Log(domain.LevelError, "connection lost")
	hub.Debug("frame received", "kind", "ack")

	events := hub.DrainLogs()
	require.Len(t, events, 3)
	assert.Equal(t, domain.LevelSuccess, events[0].Level)
	assert.Equal(t, "alice connected", events[0].Message)
	assert.False(t, events[0].Time.IsZero())

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "alice", entries[0].ContextMap()["nickname"])
	assert.Equal(t, "SUCCESS", entries[0].ContextMap()["event_level"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[3].Level)
}

func TestHub_DrainNeverBlocks(t *testing.T) {
	hub := NewHub(nil)
	assert.Nil(t, hub.DrainLogs())
	assert.Nil(t, hub.DrainPeerLists())
	assert.Nil(t, hub.DrainConversations())
}

func TestHub_PublishPeersCopies(t *testing.T) {
	hub := NewHub(nil)
	list := []domain.Nickname{"a", "b"}
	hub.PublishPeers(list)
	list[0] = "mutated"

	got := hub.DrainPeerLists()
	require.Len(t, got, 1)
	assert.Equal(t, []domain.Nickname{"a", "b"}, got[0])
}

func TestHub_Conversations(t *testing.T) {
	hub := NewHub(nil)
	hub.PublishConversation("alice", domain.ConversationEntry{Text: "hi", Origin: domain.OriginRemote})

	got := hub.DrainConversations()
	require.Len(t, got, 1)
	assert.Equal(t, domain.Nickname("alice"), got[0].Nickname)
	assert.Equal(t, "hi", got[0].Entry.Text)
}
