// Package stream implements the chat over TCP, optionally wrapped in TLS.
// Messages carry a "|TS:<unix-seconds>|" trailer used both for latency
// measurement and to recover message boundaries.
package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/internal/core/services"
	"chathub/internal/infrastructure/tlsconfig"
	"chathub/internal/infrastructure/transport"
	apperrors "chathub/pkg/errors"
	rlog "chathub/pkg/logger"
	"chathub/pkg/optimize"
	"chathub/pkg/tracing"
	"chathub/pkg/utils"
	"chathub/pkg/validation"
	"chathub/pkg/wire"
)

// maxBufferedFrames bounds how many buffer sizes of trailer-less bytes a
// connection may accumulate before they are flushed as one message.
const maxBufferedFrames = 32

type ServerConfig struct {
	Address  string
	TLS      bool
	CertFile string
	KeyFile  string
}

type Server struct {
	cfg  ServerConfig
	opts transport.Options

	registry *services.Registry[net.Conn]
	hub      *services.Hub
	pool     *optimize.BufferPool

	lifecycle transport.Lifecycle
	mu        sync.Mutex
	listener  net.Listener
	tlsConfig *tls.Config
	cancel    context.CancelFunc

	logger *zap.SugaredLogger
	ctxLog *rlog.ContextLogger
}

var _ ports.ChatSide = (*Server)(nil)

func NewServer(cfg ServerConfig, opts transport.Options) *Server {
	opts = opts.WithDefaults()
	hub := services.NewHub(opts.Logger)
	return &Server{
		cfg:  cfg,
		opts: opts,
		registry: services.NewRegistry[net.Conn](services.RegistryConfig{
			Transport: domain.TransportTCP,
			Policy:    opts.Policy,
			Secure:    cfg.TLS,
		}, connKey, hub, opts.Metrics),
		hub:    hub,
		pool:   optimize.NewBufferPool(opts.BufferSize),
		logger: opts.Logger.Sugar().With("transport", "tcp", "side", "server"),
		ctxLog: rlog.NewContextLogger(opts.Logger),
	}
}

func connKey(c net.Conn) string {
	return c.RemoteAddr().String()
}

// Start binds the listener and begins accepting. Certificate and listen
// failures are returned as STARTUP_FAILED.
func (s *Server) Start(ctx context.Context) error {
	if !s.lifecycle.Begin() {
		return domain.ErrAlreadyStarted
	}

	var tlsCfg *tls.Config
	if s.cfg.TLS {
		var err error
		tlsCfg, err = tlsconfig.ServerConfig(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			s.lifecycle.End()
			s.hub.Log(domain.LevelError, fmt.Sprintf("TLS initialization failed: %v", err))
			return apperrors.NewStartupError(err, "failed to load TLS certificate")
		}
		s.hub.Log(domain.LevelSuccess, "TLS certificates loaded successfully")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		s.lifecycle.End()
		s.hub.Log(domain.LevelError, fmt.Sprintf("failed to listen on %s: %v", s.cfg.Address, err))
		return apperrors.NewStartupError(err, "failed to listen on "+s.cfg.Address)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listener = ln
	s.tlsConfig = tlsCfg
	s.cancel = cancel
	s.mu.Unlock()

	mode := "no encryption"
	if tlsCfg != nil {
		mode = "TLS"
	}
	s.hub.Log(domain.LevelSuccess, fmt.Sprintf("TCP server listening on %s (%s)", ln.Addr(), mode),
		"address", ln.Addr().String())

	s.lifecycle.Go(func() { s.acceptLoop(runCtx, ln) })
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for s.lifecycle.Running() {
		conn, err := ln.Accept()
		if err != nil {
			if !s.lifecycle.Running() || transport.IsClosed(err) {
				return
			}
			s.hub.Log(domain.LevelError, fmt.Sprintf("TCP accept error: %v", err))
			continue
		}
		s.hub.Log(domain.LevelInfo, "Connection from "+conn.RemoteAddr().String())
		s.lifecycle.Go(func() { s.handleConn(ctx, conn) })
	}
}

// handleConn runs the handshake and then the receive loop of one peer.
// A failure here only affects this connection.
func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	remote := raw.RemoteAddr().String()
	conn, nickname, ok := s.handshake(ctx, raw)
	if !ok {
		_ = raw.Close()
		return
	}

	peer, _ := s.registry.Peer(nickname)
	peerCtx := rlog.WithPeer(ctx, string(nickname), peer.SessionID, remote)
	s.ctxLog.LogInfo(peerCtx, "peer session started")

	s.receiveLoop(peerCtx, conn, nickname)

	s.ctxLog.LogDebug(peerCtx, "receive loop stopped")
	s.removePeer(nickname)
}

func (s *Server) handshake(ctx context.Context, raw net.Conn) (net.Conn, domain.Nickname, bool) {
	remote := raw.RemoteAddr().String()
	ctx, span := tracing.TraceHandshake(ctx, string(domain.TransportTCP), remote)
	defer span.End()

	_ = raw.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	// Stop must not wait for a stalled handshake.
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	conn := raw
	s.mu.Lock()
	tlsCfg := s.tlsConfig
	s.mu.Unlock()
	if tlsCfg != nil {
		tlsConn := tls.Server(raw, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			tracing.RecordError(ctx, err)
			s.hub.Log(domain.LevelError, fmt.Sprintf("TLS handshake failed with %s: %v", remote, err))
			return nil, "", false
		}
		s.hub.Log(domain.LevelSuccess, "TLS handshake completed with "+remote)
		conn = tlsConn
	}

	if _, err := conn.Write([]byte(wire.NickPrompt)); err != nil {
		s.hub.Log(domain.LevelError, fmt.Sprintf("handshake with %s failed: %v", remote, err))
		return nil, "", false
	}

	buf := s.pool.Get()
	defer s.pool.Put(buf)
	n, err := conn.Read(*buf)
	if err != nil {
		s.hub.Log(domain.LevelError, fmt.Sprintf("no nickname from %s: %v", remote, err))
		return nil, "", false
	}
	nickname := domain.Nickname(strings.TrimSpace(string((*buf)[:n])))

	if _, err := s.registry.Add(nickname, remote, conn); err != nil {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("rejected %s: %v", remote, err))
		notice := wire.EncodeStream(wire.RefusalPrefix+rejectReason(err), time.Now())
		_, _ = conn.Write([]byte(notice))
		_ = conn.Close()
		return nil, "", false
	}
	_ = conn.SetDeadline(time.Time{})

	if tlsCfg != nil {
		s.hub.Log(domain.LevelSuccess, fmt.Sprintf("%s connected with TLS encryption", nickname), "nickname", nickname)
	} else {
		s.hub.Log(domain.LevelSuccess, fmt.Sprintf("%s connected successfully", nickname), "nickname", nickname)
	}
	tracing.AddSpanAttributes(ctx, tracing.NicknameKey.String(string(nickname)), tracing.EncryptedKey.Bool(tlsCfg != nil))

	if _, err := conn.Write([]byte(wire.EncodeStream(welcomeText(tlsCfg != nil), time.Now()))); err != nil {
		s.hub.Log(domain.LevelError, fmt.Sprintf("failed to welcome %s: %v", nickname, err))
		s.removePeer(nickname)
		return nil, "", false
	}
	return conn, nickname, true
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNicknameInUse):
		return "nickname already in use."
	case errors.Is(err, domain.ErrInvalidNickname):
		return "invalid nickname."
	default:
		return "registration failed."
	}
}

func welcomeText(secure bool) string {
	parts := []string{"Connected to server!"}
	if secure {
		parts = append(parts, "TLS encryption enabled.")
	}
	parts = append(parts, "You can now chat with the server.")
	return strings.Join(parts, " ")
}

func (s *Server) receiveLoop(ctx context.Context, conn net.Conn, nickname domain.Nickname) {
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	key := connKey(conn)
	var dec wire.StreamDecoder
	for s.lifecycle.Running() {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		n, err := conn.Read(*buf)
		if n > 0 {
			for _, f := range dec.Feed((*buf)[:n]) {
				s.deliver(nickname, key, f)
			}
			if dec.Buffered() > maxBufferedFrames*s.pool.Size() {
				if f, ok := dec.Flush(); ok {
					s.deliver(nickname, key, f)
				}
			}
		}
		if err != nil {
			if transport.IsTimeout(err) {
				if f, ok := dec.Flush(); ok {
					s.deliver(nickname, key, f)
				}
				continue
			}
			switch {
			case !s.lifecycle.Running():
			case errors.Is(err, io.EOF) || transport.IsClosed(err):
				s.ctxLog.LogDebug(ctx, "connection closed by peer")
			default:
				s.ctxLog.LogError(ctx, err, "read failed")
			}
			return
		}
	}
}

func (s *Server) deliver(nickname domain.Nickname, key string, f wire.StreamFrame) {
	text := strings.TrimSpace(wire.SplitSender(strings.TrimSpace(f.Text), string(nickname)))
	if text == "" {
		return
	}
	if !s.opts.Allow(key) {
		s.logger.Debugw("rate limited", "nickname", nickname)
		return
	}

	now := time.Now()
	secure := s.registry.Secure()
	ok := s.registry.With(nickname, func(sess *services.Session[net.Conn]) {
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
	s.opts.Metrics.FrameReceived(domain.TransportTCP, wire.KindData)
	if f.HasTimestamp {
		s.opts.Metrics.Latency(domain.TransportTCP, utils.Millis(now.Sub(f.SentAt)))
	}

	s.hub.Log(domain.LevelMessage, fmt.Sprintf("%s: %s", nickname, text), "nickname", nickname)
	s.registry.AddConversation(nickname, text, domain.OriginRemote)
}

// Send writes a server message to one peer. Unknown peers and write
// failures report false; a failed peer is disconnected.
func (s *Server) Send(ctx context.Context, target domain.Nickname, text string) bool {
	ctx, span := tracing.TraceSend(ctx, string(domain.TransportTCP), string(target))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now())

	if err := validation.ValidateMessageText(text); err != nil {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("message to %s rejected: %v", target, err))
		return false
	}
	conn, ok := s.registry.Endpoint(target)
	if !ok {
		return false
	}

	payload := wire.EncodeStream(transport.ServerPrefix+text, time.Now())
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	if _, err := conn.Write([]byte(payload)); err != nil {
		tracing.RecordError(ctx, err)
		s.hub.Log(domain.LevelError, fmt.Sprintf("Failed to send message to %s: %v", target, err))
		s.removePeer(target)
		return false
	}

	secure := s.registry.Secure()
	s.registry.With(target, func(sess *services.Session[net.Conn]) {
		sess.Stats.Sent++
		if secure {
			sess.Stats.EncryptedMessages++
		}
	})
	s.opts.Metrics.FrameSent(domain.TransportTCP, wire.KindData)

	s.hub.Log(domain.LevelSuccess, fmt.Sprintf("Server → %s: %s", target, utils.Preview(text, 80)))
	s.registry.AddConversation(target, text, domain.OriginLocal)
	return true
}

// removePeer is idempotent; only the first caller closes the socket.
func (s *Server) removePeer(nickname domain.Nickname) {
	removed, ok := s.registry.Remove(nickname)
	if !ok {
		return
	}
	s.opts.Forget(connKey(removed.Endpoint))
	_ = removed.Endpoint.Close()
	s.hub.Log(domain.LevelWarning, fmt.Sprintf("%s disconnected", nickname), "nickname", nickname)
}

// Disconnect stops the server and closes every peer.
func (s *Server) Disconnect() {
	s.Stop()
}

func (s *Server) Stop() {
	if !s.lifecycle.End() {
		return
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	for _, r := range s.registry.Clear() {
		s.opts.Forget(connKey(r.Endpoint))
		_ = r.Endpoint.Close()
	}
	s.lifecycle.Wait()
	s.hub.Log(domain.LevelInfo, "Server stopped")
}

func (s *Server) Stats(target domain.Nickname) *domain.StatsSnapshot {
	return s.registry.Snapshot(target)
}

func (s *Server) Peers() []domain.Nickname {
	return s.registry.Nicknames()
}

func (s *Server) Conversation(target domain.Nickname) []domain.ConversationEntry {
	return s.registry.Conversation(target)
}

func (s *Server) Events() ports.EventSource {
	return s.hub
}

func (s *Server) Transport() domain.Transport {
	return domain.TransportTCP
}
