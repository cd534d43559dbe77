package ports

import (
	"context"

	"chathub/internal/core/domain"
)

// ChatSide is one running side of a chat, server or client. For a client
// the target nickname is ignored: its only peer is the server.
type ChatSide interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, target domain.Nickname, text string) bool
	Disconnect()
	Stats(target domain.Nickname) *domain.StatsSnapshot
	Peers() []domain.Nickname
	Conversation(target domain.Nickname) []domain.ConversationEntry
	Events() EventSource
	Transport() domain.Transport
}

// EventSource is the consumer end of the hand-off queues. Every Drain call
// returns immediately.
type EventSource interface {
	DrainLogs() []domain.LogEvent
	DrainPeerLists() [][]domain.Nickname
	DrainConversations() []domain.ConversationUpdate
}
