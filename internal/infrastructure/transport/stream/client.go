package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/core/services"
	"chathub/internal/infrastructure/tlsconfig"
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
	TLS      bool
	// InsecureSkipVerify accepts any server certificate.
	InsecureSkipVerify bool
	ServerName         string
	// Retry governs the TCP dial only, never the chat traffic.
	Retry retry.Config
}

// Client is the stream side talking to one server.
type Client struct {
	cfg  ClientConfig
	opts transport.Options

	registry *services.Registry[net.Conn]
	hub      *services.Hub
	pool     *optimize.BufferPool

	lifecycle transport.Lifecycle
	degraded  atomic.Bool

	mu        sync.Mutex
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
		registry: services.NewRegistry[net.Conn](services.RegistryConfig{
			Transport: domain.TransportTCP,
			Policy:    opts.Policy,
			Secure:    cfg.TLS,
		}, connKey, hub, opts.Metrics),
		hub:    hub,
		pool:   optimize.NewBufferPool(opts.BufferSize),
		logger: opts.Logger.Sugar().With("transport", "tcp", "side", "client", "nickname", cfg.Nickname),
	}
}

func (c *Client) Start(ctx context.Context) error {
	return c.Connect(ctx)
}

// Connect dials the server, runs the optional TLS handshake and the NICK
// exchange. A failed TLS handshake falls back to a plaintext connection;
// see Degraded.
func (c *Client) Connect(ctx context.Context) error {
	if !c.lifecycle.Begin() {
		return domain.ErrAlreadyStarted
	}
	if err := validation.ValidateNickname(string(c.cfg.Nickname)); err != nil {
		c.lifecycle.End()
		return fmt.Errorf("%w: %v", domain.ErrInvalidNickname, err)
	}

	ctx, span := tracing.TraceHandshake(ctx, string(domain.TransportTCP), c.cfg.Address)
	defer span.End()

	conn, secure, err := c.dial(ctx)
	if err != nil {
		c.lifecycle.End()
		tracing.RecordError(ctx, err)
		c.hub.Log(domain.LevelError, fmt.Sprintf("Connection failed: %v", err))
		return apperrors.NewHandshakeError(err, "failed to connect to "+c.cfg.Address)
	}

	leftover, err := c.exchangeNick(conn)
	if err != nil {
		_ = conn.Close()
		c.lifecycle.End()
		tracing.RecordError(ctx, err)
		c.hub.Log(domain.LevelError, fmt.Sprintf("Connection failed: %v", err))
		return apperrors.NewHandshakeError(err, "nickname exchange failed")
	}

	c.registry.SetSecure(secure)
	if _, err := c.registry.Add(domain.ServerPeer, conn.RemoteAddr().String(), conn); err != nil {
		_ = conn.Close()
		c.lifecycle.End()
		return err
	}
	tracing.AddSpanAttributes(ctx, tracing.EncryptedKey.Bool(secure))
	c.logger.Infow("connected", "address", c.cfg.Address, "tls", secure, "degraded", c.degraded.Load())

	c.lifecycle.Go(func() { c.receiveLoop(conn, leftover) })
	return nil
}

func (c *Client) dialPlain(ctx context.Context) (net.Conn, error) {
	return retry.Do(ctx, c.cfg.Retry, func(attempt int) (net.Conn, error) {
		if attempt > 0 {
			c.logger.Debugw("retrying dial", "attempt", attempt)
		}
		d := net.Dialer{Timeout: c.opts.HandshakeTimeout}
		return d.DialContext(ctx, "tcp", c.cfg.Address)
	})
}

func (c *Client) dial(ctx context.Context) (net.Conn, bool, error) {
	conn, err := c.dialPlain(ctx)
	if err != nil {
		return nil, false, err
	}
	if !c.cfg.TLS {
		return conn, false, nil
	}

	serverName := c.cfg.ServerName
	if serverName == "" {
		if host, _, err := net.SplitHostPort(c.cfg.Address); err == nil {
			serverName = host
		}
	}
	tlsConn := tls.Client(conn, tlsconfig.ClientConfig(c.cfg.InsecureSkipVerify, serverName))
	_ = conn.SetDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	err = tlsConn.HandshakeContext(ctx)
	if err == nil {
		_ = conn.SetDeadline(time.Time{})
		c.hub.Log(domain.LevelSuccess, "Secure TLS connection established!")
		return tlsConn, true, nil
	}
	_ = conn.Close()
	c.degraded.Store(true)
	c.hub.Log(domain.LevelWarning, fmt.Sprintf("TLS handshake failed: %v. Connection not secure.", err))

	conn, err = c.dialPlain(ctx)
	if err != nil {
		return nil, false, err
	}
	return conn, false, nil
}

// exchangeNick waits for the prompt and answers with the nickname. Bytes
// read past the prompt are returned for the receive loop.
func (c *Client) exchangeNick(conn net.Conn) ([]byte, error) {
	_ = conn.SetDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	buf := c.pool.Get()
	defer c.pool.Put(buf)
	n, err := conn.Read(*buf)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s prompt: %w", wire.NickPrompt, err)
	}
	data := (*buf)[:n]
	if !strings.HasPrefix(string(data), wire.NickPrompt) {
		return nil, fmt.Errorf("unexpected handshake prompt %q", utils.Preview(string(data), 32))
	}
	if _, err := conn.Write([]byte(c.cfg.Nickname)); err != nil {
		return nil, fmt.Errorf("sending nickname: %w", err)
	}
	pending := optimize.CopyBytes(data[len(wire.NickPrompt):], n-len(wire.NickPrompt))
	return awaitAdmission(conn, pending, *buf)
}

// awaitAdmission reads until the server's first frame is complete. A
// refusal notice fails the handshake; otherwise every byte read is handed
// on to the receive loop. A server that stays silent until the deadline is
// taken as admitting the peer.
func awaitAdmission(conn net.Conn, pending, buf []byte) ([]byte, error) {
	for {
		var dec wire.StreamDecoder
		if frames := dec.Feed(pending); len(frames) > 0 {
			return pending, checkAdmission(frames[0])
		}

		n, err := conn.Read(buf)
		pending = append(pending, buf[:n]...)
		if err == nil {
			continue
		}
		if transport.IsTimeout(err) {
			return pending, nil
		}
		if len(pending) > 0 {
			if rerr := checkAdmission(wire.ParseStream(string(pending))); rerr != nil {
				return nil, rerr
			}
		}
		return nil, fmt.Errorf("connection closed during handshake: %w", err)
	}
}

func checkAdmission(f wire.StreamFrame) error {
	text := strings.TrimSpace(f.Text)
	if strings.HasPrefix(text, strings.TrimSpace(wire.RefusalPrefix)) {
		return fmt.Errorf("%w: %s", domain.ErrRefused, text)
	}
	return nil
}

func (c *Client) receiveLoop(conn net.Conn, leftover []byte) {
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	var dec wire.StreamDecoder
	for _, f := range dec.Feed(leftover) {
		c.deliver(f)
	}

	for c.lifecycle.Running() {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		n, err := conn.Read(*buf)
		if n > 0 {
			for _, f := range dec.Feed((*buf)[:n]) {
				c.deliver(f)
			}
			if dec.Buffered() > maxBufferedFrames*c.pool.Size() {
				if f, ok := dec.Flush(); ok {
					c.deliver(f)
				}
			}
		}
		if err != nil {
			if transport.IsTimeout(err) {
				if f, ok := dec.Flush(); ok {
					c.deliver(f)
				}
				continue
			}
			if c.lifecycle.Running() {
				c.logger.Debugw("read failed", "error", err)
				c.teardown(domain.LevelError, "Connection lost!")
			}
			return
		}
	}
}

func (c *Client) deliver(f wire.StreamFrame) {
	text := strings.TrimSpace(f.Text)
	if text == "" || text == wire.NickPrompt {
		return
	}

	now := time.Now()
	secure := c.registry.Secure()
	ok := c.registry.With(domain.ServerPeer, func(sess *services.Session[net.Conn]) {
		sess.Stats.Received++
		if secure {
			sess.Stats.EncryptedMessages++
		}
		if f.HasTimestamp {
			sess.Stats.RecordLatency(utils.Millis(now.Sub(f.SentAt)))
		}
	})
	if !ok {
		return
	}
	c.opts.Metrics.FrameReceived(domain.TransportTCP, wire.KindData)
	if f.HasTimestamp {
		c.opts.Metrics.Latency(domain.TransportTCP, utils.Millis(now.Sub(f.SentAt)))
	}

	c.hub.Log(domain.LevelMessage, text)
	c.registry.AddConversation(domain.ServerPeer, text, domain.OriginRemote)
}

// Send writes a chat message to the server. The target is ignored.
func (c *Client) Send(ctx context.Context, _ domain.Nickname, text string) bool {
	ctx, span := tracing.TraceSend(ctx, string(domain.TransportTCP), string(c.cfg.Nickname))
	defer span.End()

	if err := validation.ValidateMessageText(text); err != nil {
		c.hub.Log(domain.LevelWarning, fmt.Sprintf("message rejected: %v", err))
		return false
	}
	conn, ok := c.registry.Endpoint(domain.ServerPeer)
	if !ok {
		return false
	}

	payload := wire.EncodeStream(wire.WithSender(string(c.cfg.Nickname), text), time.Now())
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	if _, err := conn.Write([]byte(payload)); err != nil {
		tracing.RecordError(ctx, err)
		c.teardown(domain.LevelError, "Connection lost!")
		return false
	}

	secure := c.registry.Secure()
	c.registry.With(domain.ServerPeer, func(sess *services.Session[net.Conn]) {
		sess.Stats.Sent++
		if secure {
			sess.Stats.EncryptedMessages++
		}
	})
	c.opts.Metrics.FrameSent(domain.TransportTCP, wire.KindData)
	c.registry.AddConversation(domain.ServerPeer, text, domain.OriginLocal)
	return true
}

// teardown runs once per connection no matter how many paths race to it.
func (c *Client) teardown(level domain.LogLevel, msg string) bool {
	removed, ok := c.registry.Remove(domain.ServerPeer)
	if !ok {
		return false
	}
	c.lifecycle.End()
	_ = removed.Endpoint.Close()

	c.mu.Lock()
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

// Degraded reports that TLS was requested but the connection fell back to
// plaintext.
func (c *Client) Degraded() bool {
	return c.degraded.Load()
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
	return domain.TransportTCP
}
