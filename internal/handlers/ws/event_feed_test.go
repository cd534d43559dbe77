package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chathub/internal/core/domain"
	"chathub/internal/core/services"
)

func TestEventFeed_PumpFansOut(t *testing.T) {
	hub := services.NewHub(nil)
	feed := NewEventFeed(hub, time.Hour, zaptest.NewLogger(t))

	a, cancelA := feed.Subscribe()
	defer cancelA()
	b, cancelB := feed.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, feed.Subscribers())

	hub.Log(domain.LevelSuccess, "alice connected")
	hub.PublishPeers([]domain.Nickname{"alice"})
	hub.PublishPeers(nil)
	hub.PublishConversation("alice", domain.ConversationEntry{Text: "hi", Origin: domain.OriginRemote})

	assert.Equal(t, 4, feed.Pump())
	assert.Zero(t, feed.Pump(), "queues are drained once")

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, EventLog, e.Type)
		assert.Equal(t, "alice connected", e.Log.Message)
		e = <-ch
		assert.Equal(t, EventPeers, e.Type)
		assert.Equal(t, []domain.Nickname{"alice"}, e.Peers)
		e = <-ch
		assert.Equal(t, EventPeers, e.Type)
		assert.Empty(t, e.Peers)
		e = <-ch
		assert.Equal(t, EventConversation, e.Type)
		assert.Equal(t, domain.Nickname("alice"), e.Conversation.Nickname)
	}
}

func TestEventFeed_SlowSubscriberDropped(t *testing.T) {
	hub := services.NewHub(nil)
	feed := NewEventFeed(hub, time.Hour, nil)

	slow, cancel := feed.Subscribe()
	defer cancel()
	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Log(domain.LevelInfo, "tick")
	}
	feed.Pump()
	assert.Zero(t, feed.Subscribers())

	n := 0
	for range slow {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
	cancel()
}

func TestEventFeed_RunClosesSubscribers(t *testing.T) {
	hub := services.NewHub(nil)
	feed := NewEventFeed(hub, 5*time.Millisecond, nil)
	events, cancel := feed.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	hub.Log(domain.LevelWarning, "drop simulated")
	select {
	case e := <-events:
		assert.Equal(t, domain.LevelWarning, e.Log.Level)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	hub.Log(domain.LevelInfo, "last words")
	stop()
	<-done

	var rest []Event
	for e := range events {
		rest = append(rest, e)
	}
	require.Len(t, rest, 1)
	assert.Equal(t, "last words", rest[0].Log.Message)
}

func TestEventFeed_RunWakesOnLog(t *testing.T) {
	hub := services.NewHub(nil)
	feed := NewEventFeed(hub, time.Hour, nil)
	events, cancel := feed.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go feed.Run(ctx)

	for _, msg := range []string{"first", "second"} {
		hub.Log(domain.LevelInfo, msg)
		select {
		case e := <-events:
			assert.Equal(t, msg, e.Log.Message)
		case <-time.After(2 * time.Second):
			t.Fatalf("%q not delivered before the next tick", msg)
		}
	}
}

func TestEventFeed_WebSocket(t *testing.T) {
	hub := services.NewHub(nil)
	feed := NewEventFeed(hub, 5*time.Millisecond, zaptest.NewLogger(t))
	feed.SetPingInterval(200 * time.Millisecond)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go feed.Run(ctx)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/events", feed.HandleEvents)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Log(domain.LevelMessage, "alice: hello")
	hub.PublishPeers([]domain.Nickname{"alice", "bob"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, EventLog, e.Type)
	assert.Equal(t, domain.LevelMessage, e.Log.Level)
	assert.Equal(t, "alice: hello", e.Log.Message)

	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, EventPeers, e.Type)
	assert.Equal(t, []domain.Nickname{"alice", "bob"}, e.Peers)

	// Closing the dashboard unsubscribes it.
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return feed.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
