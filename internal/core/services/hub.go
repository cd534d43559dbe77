package services

import (
	"time"

	"go.uber.org/zap"

	"chathub/internal/core/domain"
	"chathub/pkg/queue"
)

// Hub owns the three hand-off queues read by external collaborators.
// Producers never block; every log event is mirrored to zap.
type Hub struct {
	logs          *queue.Queue[domain.LogEvent]
	peerLists     *queue.Queue[[]domain.Nickname]
	conversations *queue.Queue[domain.ConversationUpdate]

	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logs:          queue.New[domain.LogEvent](),
		peerLists:     queue.New[[]domain.Nickname](),
		conversations: queue.New[domain.ConversationUpdate](),
		logger:        logger.Sugar(),
		now:           time.Now,
	}
}

// Log queues an event and writes it to the logger with the given
// key/value pairs.
func (h *Hub) Log(level domain.LogLevel, msg string, keysAndValues ...interface{}) {
	h.logs.Push(domain.LogEvent{Time: h.now(), Level: level, Message: msg})

	kv := append([]interface{}{"event_level", string(level)}, keysAndValues...)
	switch level {
	case domain.LevelError:
		h.logger.Errorw(msg, kv...)
	case domain.LevelWarning:
		h.logger.Warnw(msg, kv...)
	default:
		h.logger.Infow(msg, kv...)
	}
}

// Debug writes to the logger only. Used for per-frame noise that would
// flood the event queue.
func (h *Hub) Debug(msg string, keysAndValues ...interface{}) {
	h.logger.Debugw(msg, keysAndValues...)
}

func (h *Hub) PublishPeers(nicknames []domain.Nickname) {
	list := make([]domain.Nickname, len(nicknames))
	copy(list, nicknames)
	h.peerLists.Push(list)
}

func (h *Hub) PublishConversation(nickname domain.Nickname, entry domain.ConversationEntry) {
	h.conversations.Push(domain.ConversationUpdate{Nickname: nickname, Entry: entry})
}

// Ready is closed by the next log event, or already closed when one is
// waiting.
func (h *Hub) Ready() <-chan struct{} {
	return h.logs.Ready()
}

func (h *Hub) DrainLogs() []domain.LogEvent {
	return h.logs.Drain()
}

func (h *Hub) DrainPeerLists() [][]domain.Nickname {
	return h.peerLists.Drain()
}

func (h *Hub) DrainConversations() []domain.ConversationUpdate {
	return h.conversations.Drain()
}
