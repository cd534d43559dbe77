package datagram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/core/services"
	"chathub/internal/infrastructure/transport"
	apperrors "chathub/pkg/errors"
	"chathub/pkg/optimize"
	"chathub/pkg/retry"
	"chathub/pkg/tracing"
	"chathub/pkg/utils"
	"chathub/pkg/validation"
	"chathub/pkg/wire"
)

type ClientConfig struct {
	Address  string
	Nickname domain.Nickname
	// Retry governs address resolution and socket setup.
	Retry retry.Config
}

// Client is the datagram side talking to one server. An outbound message
// joins the conversation log only once the server acknowledged it.
type Client struct {
	cfg  ClientConfig
	opts transport.Options
	env  transport.Envelope

	registry *services.Registry[*net.UDPAddr]
	hub      *services.Hub
	ids      services.IDSequence
	pool     *optimize.BufferPool

	lifecycle transport.Lifecycle
	mu        sync.Mutex
	conn      *net.UDPConn
	lastStats *domain.StatsSnapshot

	logger *zap.SugaredLogger
}

var _ ports.ChatSide = (*Client)(nil)

func NewClient(cfg ClientConfig, opts transport.Options) *Client {
	opts = opts.WithDefaults()
	hub := services.NewHub(opts.Logger)
	return &Client{
		cfg:  cfg,
		opts: opts,
		env:  transport.NewEnvelope(opts.Codec),
		registry: services.NewRegistry[*net.UDPAddr](services.RegistryConfig{
			Transport: domain.TransportUDP,
			Policy:    opts.Policy,
			LossRate:  opts.Loss.Rate(),
			Reliable:  true,
			Secure:    opts.Codec != nil,
		}, addrKey, hub, opts.Metrics),
		hub:    hub,
		pool:   optimize.NewBufferPool(opts.BufferSize),
		logger: opts.Logger.Sugar().With("transport", "udp", "side", "client", "nickname", cfg.Nickname),
	}
}

func (c *Client) Start(ctx context.Context) error {
	return c.Connect(ctx)
}

// Connect opens the socket and announces the nickname. There is no reply
// to wait for: the server's welcome arrives as an ordinary data frame.
func (c *Client) Connect(ctx context.Context) error {
	if !c.lifecycle.Begin() {
		return domain.ErrAlreadyStarted
	}
	if err := validation.ValidateNickname(string(c.cfg.Nickname)); err != nil {
		c.lifecycle.End()
		return fmt.Errorf("%w: %v", domain.ErrInvalidNickname, err)
	}

	ctx, span := tracing.TraceHandshake(ctx, string(domain.TransportUDP), c.cfg.Address)
	defer span.End()

	conn, err := retry.Do(ctx, c.cfg.Retry, func(attempt int) (*net.UDPConn, error) {
		if attempt > 0 {
			c.logger.Debugw("retrying socket setup", "attempt", attempt)
		}
		var d net.Dialer
		nc, err := d.DialContext(ctx, "udp", c.cfg.Address)
		if err != nil {
			return nil, err
		}
		return nc.(*net.UDPConn), nil
	})
	if err != nil {
		c.lifecycle.End()
		tracing.RecordError(ctx, err)
		c.hub.Log(domain.LevelError, fmt.Sprintf("Connection failed: %v", err))
		return apperrors.NewHandshakeError(err, "failed to open UDP socket to "+c.cfg.Address)
	}
	server := conn.RemoteAddr().(*net.UDPAddr)

	// The identity announcement is never loss-simulated.
	identity, err := c.env.Seal(string(c.cfg.Nickname))
	if err == nil {
		_, err = conn.Write(identity)
	}
	if err != nil {
		_ = conn.Close()
		c.lifecycle.End()
		c.hub.Log(domain.LevelError, fmt.Sprintf("Connection failed: %v", err))
		return apperrors.NewHandshakeError(err, "failed to announce nickname")
	}
	c.opts.Metrics.FrameSent(domain.TransportUDP, wire.KindIdentity)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if _, err := c.registry.Add(domain.ServerPeer, server.String(), server); err != nil {
		_ = conn.Close()
		c.lifecycle.End()
		return err
	}

	if c.env.Enabled() {
		c.hub.Log(domain.LevelSuccess, fmt.Sprintf("UDP connection with %s established!", c.env.Describe()))
	} else {
		c.hub.Log(domain.LevelWarning, "UDP mode: no encryption available")
	}
	tracing.AddSpanAttributes(ctx, tracing.EncryptedKey.Bool(c.env.Enabled()))

	c.lifecycle.Go(func() { c.receiveLoop(conn) })
	c.lifecycle.Go(c.sweepLoop)
	return nil
}

func (c *Client) receiveLoop(conn *net.UDPConn) {
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	for c.lifecycle.Running() {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		n, err := conn.Read(*buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if !c.lifecycle.Running() || transport.IsClosed(err) {
				return
			}
			// ICMP unreachable surfaces here; the sweep decides when the
			// server is gone.
			c.logger.Debugw("receive error", "error", err)
			continue
		}
		c.handle(string((*buf)[:n]))
	}
}

func (c *Client) handle(payload string) {
	plain, encrypted, err := c.env.Open(payload)
	if err != nil {
		c.opts.Metrics.DecryptFailure(domain.TransportUDP)
		c.hub.Log(domain.LevelError, fmt.Sprintf("Failed to decrypt message: %v", err),
			"code", apperrors.ErrCodeDecryption)
		return
	}

	frame, err := wire.ParseDatagram(plain)
	if err != nil {
		if errors.Is(err, wire.ErrMalformedFrame) {
			err = apperrors.NewMalformedFrameError(err, "datagram from server")
			c.hub.Log(domain.LevelWarning, fmt.Sprintf("malformed frame from server: %v", err),
				"code", apperrors.ErrCodeMalformedFrame)
		}
		return
	}

	switch frame.Kind {
	case wire.KindAck:
		c.handleAck(frame)
	case wire.KindData:
		c.handleData(frame, encrypted)
	default:
		c.logger.Debugw("ignored frame", "kind", frame.Kind)
	}
}

func (c *Client) handleAck(frame wire.Frame) {
	if c.simulateDrop(ports.Inbound, wire.KindAck) {
		return
	}

	now := time.Now()
	var (
		pending domain.PendingSend
		acked   bool
	)
	c.registry.With(domain.ServerPeer, func(sess *services.Session[*net.UDPAddr]) {
		pending, acked = sess.Outbox.Ack(frame.ID)
		if !acked {
			return
		}
		sess.Stats.Acks++
		sess.Stats.RecordLatency(utils.Millis(now.Sub(pending.SentAt)))
	})
	c.opts.Metrics.FrameReceived(domain.TransportUDP, wire.KindAck)
	if !acked {
		return
	}
	c.opts.Metrics.Latency(domain.TransportUDP, utils.Millis(now.Sub(pending.SentAt)))
	if pending.Text != "" {
		c.registry.AddConversation(domain.ServerPeer, pending.Text, domain.OriginLocal)
	}
}

func (c *Client) handleData(frame wire.Frame, encrypted bool) {
	if c.simulateDrop(ports.Inbound, wire.KindData) {
		return
	}

	c.sendAck(frame.ID)

	now := time.Now()
	duplicate := false
	ok := c.registry.With(domain.ServerPeer, func(sess *services.Session[*net.UDPAddr]) {
		duplicate = sess.Dedup.Observe(frame.ID)
		if duplicate {
			sess.Stats.Duplicates++
			return
		}
		sess.Stats.Received++
		if encrypted {
			sess.Stats.EncryptedMessages++
		}
		sess.Stats.RecordLatency(utils.Millis(now.Sub(frame.SentAt)))
	})
	if !ok {
		return
	}
	c.opts.Metrics.FrameReceived(domain.TransportUDP, wire.KindData)
	if duplicate {
		c.opts.Metrics.Duplicate(domain.TransportUDP)
		return
	}
	c.opts.Metrics.Latency(domain.TransportUDP, utils.Millis(now.Sub(frame.SentAt)))

	c.hub.Log(domain.LevelMessage, frame.Text)
	c.registry.AddConversation(domain.ServerPeer, frame.Text, domain.OriginRemote)
}

func (c *Client) sendAck(id uint64) {
	payload, err := c.env.Seal(wire.EncodeAck(id))
	if err != nil {
		c.hub.Log(domain.LevelError, fmt.Sprintf("failed to seal ACK: %v", err))
		return
	}
	if c.simulateDrop(ports.Outbound, wire.KindAck) {
		return
	}
	if err := c.write(payload, wire.KindAck); err != nil {
		c.logger.Debugw("ack send failed", "id", id, "error", err)
	}
}

func (c *Client) write(payload []byte, kind wire.Kind) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	if _, err := conn.Write(payload); err != nil {
		return err
	}
	c.opts.Metrics.FrameSent(domain.TransportUDP, kind)
	return nil
}

func (c *Client) simulateDrop(dir ports.Direction, kind wire.Kind) bool {
	if !c.opts.Loss.ShouldDrop(dir, kind) {
		return false
	}
	c.registry.With(domain.ServerPeer, func(sess *services.Session[*net.UDPAddr]) {
		sess.Stats.SimulatedDrops++
	})
	c.opts.Metrics.SimulatedDrop(domain.TransportUDP, dir)
	c.hub.Log(domain.LevelWarning, fmt.Sprintf("[SIMULATED DROP] %s %s frame", dir, kind))
	return true
}

// Send tracks and transmits one chat message. It reports false when not
// connected or when the socket write fails; a simulated drop still counts
// as sent since the sweep will retransmit it.
func (c *Client) Send(ctx context.Context, _ domain.Nickname, text string) bool {
	ctx, span := tracing.TraceSend(ctx, string(domain.TransportUDP), string(c.cfg.Nickname))
	defer span.End()

	if err := validation.ValidateMessageText(text); err != nil {
		c.hub.Log(domain.LevelWarning, fmt.Sprintf("message rejected: %v", err))
		return false
	}

	id := c.ids.Next()
	now := time.Now()
	payload, err := c.env.Seal(wire.EncodeData(id, now, wire.WithSender(string(c.cfg.Nickname), text)))
	if err != nil {
		tracing.RecordError(ctx, err)
		c.hub.Log(domain.LevelError, fmt.Sprintf("failed to seal message: %v", err))
		return false
	}

	encrypted := c.env.Enabled()
	tracked := c.registry.With(domain.ServerPeer, func(sess *services.Session[*net.UDPAddr]) {
		sess.Outbox.Track(domain.PendingSend{
			ID:       id,
			Payload:  payload,
			SentAt:   now,
			Nickname: domain.ServerPeer,
			Text:     text,
		})
		sess.Stats.Sent++
		if encrypted {
			sess.Stats.EncryptedMessages++
		}
	})
	if !tracked {
		return false
	}
	tracing.AddSpanAttributes(ctx, tracing.MessageIDKey.Int64(int64(id)))

	if c.simulateDrop(ports.Outbound, wire.KindData) {
		return true
	}
	if err := c.write(payload, wire.KindData); err != nil {
		tracing.RecordError(ctx, err)
		c.hub.Log(domain.LevelError, fmt.Sprintf("Failed to send message: %v", err))
		return false
	}
	return true
}

func (c *Client) sweepLoop() {
	ticker := time.NewTicker(c.opts.Policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.lifecycle.Done():
			return
		case now := <-ticker.C:
			if !c.sweep(now) {
				return
			}
		}
	}
}

// sweep reports false once the connection has been given up.
func (c *Client) sweep(now time.Time) bool {
	for _, r := range c.registry.Sweep(now) {
		if len(r.Failed) > 0 {
			c.teardown(domain.LevelError,
				fmt.Sprintf("Connection lost: %d message(s) failed after %d retries!",
					len(r.Failed), c.opts.Policy.MaxRetries))
			return false
		}
		for _, p := range r.Retransmit {
			c.opts.Metrics.Retransmission(domain.TransportUDP)
			if c.simulateDrop(ports.Outbound, wire.KindData) {
				continue
			}
			if err := c.write(p.Payload, wire.KindData); err != nil {
				c.logger.Debugw("retransmission failed", "id", p.ID, "error", err)
				continue
			}
			c.logger.Debugw("retransmitted", "id", p.ID, "retry", p.Retries)
		}
	}
	return true
}

// teardown runs once: it records the final stats, tells the server,
// closes the socket and emits one event at level.
func (c *Client) teardown(level domain.LogLevel, msg string) bool {
	removed, ok := c.registry.Remove(domain.ServerPeer)
	if !ok {
		return false
	}
	c.lifecycle.End()

	if notice, err := c.env.Seal(wire.EncodeDisconnect(string(c.cfg.Nickname))); err == nil {
		if err := c.write(notice, wire.KindDisconnect); err != nil {
			c.logger.Debugw("disconnect notice failed", "error", err)
		}
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.lastStats = &removed.Stats
	c.mu.Unlock()

	c.hub.Log(level, msg)
	return true
}

func (c *Client) Disconnect() {
	c.teardown(domain.LevelInfo, "Disconnected from server")
	c.lifecycle.End()
	c.lifecycle.Wait()
}

func (c *Client) Connected() bool {
	return c.registry.Len() > 0
}

// Stats returns the live snapshot, or the last one after disconnecting.
func (c *Client) Stats(domain.Nickname) *domain.StatsSnapshot {
	if snap := c.registry.Snapshot(domain.ServerPeer); snap != nil {
		return snap
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastStats == nil {
		return nil
	}
	snap := *c.lastStats
	return &snap
}

func (c *Client) Peers() []domain.Nickname {
	return c.registry.Nicknames()
}

func (c *Client) Conversation(domain.Nickname) []domain.ConversationEntry {
	return c.registry.Conversation(domain.ServerPeer)
}

func (c *Client) Events() ports.EventSource {
	return c.hub
}

func (c *Client) Transport() domain.Transport {
	return domain.TransportUDP
}
