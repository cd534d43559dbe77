// Package ws streams a chat side's events to dashboards over websocket.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
)

const (
	EventLog          = "log"
	EventPeers        = "peers"
	EventConversation = "conversation"

	subscriberBuffer = 256
)

var upgrader = websocket.Upgrader{
	// Dashboards are served from anywhere; the admin API has no auth either.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Event is one item drained from the side's hand-off queues.
type Event struct {
	Type         string                     `json:"type"`
	Log          *domain.LogEvent           `json:"log,omitempty"`
	Peers        []domain.Nickname          `json:"peers,omitempty"`
	Conversation *domain.ConversationUpdate `json:"conversation,omitempty"`
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// EventFeed is the only consumer of an EventSource. Run drains it on a
// ticker and fans every event out to all subscribers, websocket or local.
// A subscriber that falls a full buffer behind is cut off.
type EventFeed struct {
	source   ports.EventSource
	interval time.Duration

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

var _ ports.EventStreamHandler = (*EventFeed)(nil)

func NewEventFeed(source ports.EventSource, interval time.Duration, logger *zap.Logger) *EventFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &EventFeed{
		source:       source,
		interval:     interval,
		subscribers:  make(map[*subscriber]struct{}),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger.Sugar().With("component", "event_feed"),
	}
}

// SetPingInterval sets the websocket keepalive period; the read timeout
// follows at twice the interval.
func (f *EventFeed) SetPingInterval(interval time.Duration) {
	f.pingInterval = interval
	f.readTimeout = 2 * interval
}

// readySource is implemented by sources that can signal new log events
// ahead of the next tick.
type readySource interface {
	Ready() <-chan struct{}
}

// Run pumps events until ctx is done, then drains one last time and closes
// every subscriber. Log events from a readySource are pumped as soon as
// they arrive; everything else waits for the ticker.
func (f *EventFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	rs, _ := f.source.(readySource)
	for {
		var ready <-chan struct{}
		if rs != nil {
			ready = rs.Ready()
		}
		select {
		case <-ready:
			f.Pump()
		case <-ctx.Done():
			f.Pump()
			f.closeAll()
			return
		case <-ticker.C:
			f.Pump()
		}
	}
}

// Pump drains the source once and broadcasts what it got. Logs go first,
// then peer lists, then conversation updates.
func (f *EventFeed) Pump() int {
	var events []Event
	for _, l := range f.source.DrainLogs() {
		events = append(events, Event{Type: EventLog, Log: &l})
	}
	for _, p := range f.source.DrainPeerLists() {
		if p == nil {
			p = []domain.Nickname{}
		}
		events = append(events, Event{Type: EventPeers, Peers: p})
	}
	for _, c := range f.source.DrainConversations() {
		events = append(events, Event{Type: EventConversation, Conversation: &c})
	}
	if len(events) == 0 {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subscribers {
		for _, e := range events {
			select {
			case sub.ch <- e:
			default:
				f.logger.Warnw("dropping slow subscriber", "buffered", len(sub.ch))
				f.removeLocked(sub)
			}
			if sub.closed {
				break
			}
		}
	}
	return len(events)
}

// Subscribe registers a local consumer. Call cancel when done; the channel
// is closed by cancel, by Run's exit or when the consumer falls behind.
func (f *EventFeed) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	f.mu.Lock()
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()

	return sub.ch, func() {
		f.mu.Lock()
		f.removeLocked(sub)
		f.mu.Unlock()
	}
}

func (f *EventFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *EventFeed) removeLocked(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(f.subscribers, sub)
	close(sub.ch)
}

func (f *EventFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subscribers {
		f.removeLocked(sub)
	}
}

// HandleEvents upgrades the request and streams events as JSON text
// frames until either side goes away. Inbound messages are ignored.
func (f *EventFeed) HandleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := f.Subscribe()
	defer cancel()
	remote := conn.RemoteAddr().String()
	f.logger.Infow("dashboard connected", "remote_addr", remote)

	_ = conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	pingTicker := time.NewTicker(f.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
					time.Now().Add(f.writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				f.logger.Infow("error writing event", "remote_addr", remote, "error", err)
				return
			}

		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Infow("error sending ping", "remote_addr", remote, "error", err)
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Infow("dashboard read error", "remote_addr", remote, "error", err)
			}
			f.logger.Infow("dashboard disconnected", "remote_addr", remote)
			return
		}
	}
}
