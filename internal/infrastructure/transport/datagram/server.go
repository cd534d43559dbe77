// Package datagram implements the chat over UDP. Delivery is made
// at-least-once by acknowledgments, timed retransmission and per-session
// duplicate suppression; payloads may be sealed in an "ENC:" envelope.
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
	"chathub/pkg/tracing"
	"chathub/pkg/utils"
	"chathub/pkg/validation"
	"chathub/pkg/wire"
)

type ServerConfig struct {
	Address string
}

// Server runs one socket, one receive loop and one sweep loop for every
// peer.
type Server struct {
	cfg  ServerConfig
	opts transport.Options
	env  transport.Envelope

	registry *services.Registry[*net.UDPAddr]
	hub      *services.Hub
	ids      services.IDSequence
	pool     *optimize.BufferPool

	lifecycle transport.Lifecycle
	mu        sync.Mutex
	conn      *net.UDPConn

	logger *zap.SugaredLogger
}

var _ ports.ChatSide = (*Server)(nil)

func NewServer(cfg ServerConfig, opts transport.Options) *Server {
	opts = opts.WithDefaults()
	hub := services.NewHub(opts.Logger)
	return &Server{
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
		logger: opts.Logger.Sugar().With("transport", "udp", "side", "server"),
	}
}

func addrKey(a *net.UDPAddr) string {
	return a.String()
}

// Start binds the socket. Bind failures are returned as STARTUP_FAILED.
func (s *Server) Start(ctx context.Context) error {
	if !s.lifecycle.Begin() {
		return domain.ErrAlreadyStarted
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", s.cfg.Address)
	if err != nil {
		s.lifecycle.End()
		s.hub.Log(domain.LevelError, fmt.Sprintf("failed to bind %s: %v", s.cfg.Address, err))
		return apperrors.NewStartupError(err, "failed to bind "+s.cfg.Address)
	}
	conn := pc.(*net.UDPConn)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.env.Enabled() {
		s.hub.Log(domain.LevelSuccess, fmt.Sprintf("UDP payload encryption initialized (%s)", s.env.Describe()))
	}
	s.hub.Log(domain.LevelSuccess,
		fmt.Sprintf("UDP server listening on %s (packet loss simulation: %.0f%%, %s)",
			conn.LocalAddr(), s.opts.Loss.Rate()*100, s.env.Describe()),
		"address", conn.LocalAddr().String(), "ack_timeout", s.opts.Policy.AckTimeout, "max_retries", s.opts.Policy.MaxRetries)

	s.lifecycle.Go(func() { s.receiveLoop(conn) })
	s.lifecycle.Go(s.sweepLoop)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) receiveLoop(conn *net.UDPConn) {
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	for s.lifecycle.Running() {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		n, addr, err := conn.ReadFromUDP(*buf)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			if !s.lifecycle.Running() || transport.IsClosed(err) {
				return
			}
			s.hub.Log(domain.LevelError, fmt.Sprintf("UDP receive error: %v", err))
			continue
		}
		s.handle(addr, string((*buf)[:n]))
	}
}

func (s *Server) handle(addr *net.UDPAddr, payload string) {
	plain, encrypted, err := s.env.Open(payload)
	if err != nil {
		s.opts.Metrics.DecryptFailure(domain.TransportUDP)
		s.hub.Log(domain.LevelError, fmt.Sprintf("Failed to decrypt message from %s: %v", addr, err),
			"code", apperrors.ErrCodeDecryption)
		return
	}

	frame, err := wire.ParseDatagram(plain)
	if err != nil {
		if errors.Is(err, wire.ErrMalformedFrame) {
			err = apperrors.NewMalformedFrameError(err, "datagram from "+addr.String())
			s.hub.Log(domain.LevelWarning, fmt.Sprintf("malformed frame from %s: %v", addr, err),
				"code", apperrors.ErrCodeMalformedFrame)
		}
		return
	}

	nickname, known := s.registry.NicknameFor(addr)
	if known && !s.opts.Allow(addrKey(addr)) {
		s.logger.Debugw("rate limited", "nickname", nickname, "kind", frame.Kind)
		return
	}

	switch {
	case frame.Kind == wire.KindDisconnect:
		s.hub.Log(domain.LevelInfo, fmt.Sprintf("Received DISCONNECT from %s at %s", frame.Text, addr))
		if known {
			s.removePeer(nickname)
		} else {
			s.hub.Log(domain.LevelWarning, "DISCONNECT for unknown address "+addr.String(),
				"error", domain.ErrPeerUnknownAddress)
		}

	case !known && frame.Kind == wire.KindIdentity:
		s.register(addr, domain.Nickname(frame.Text))

	case !known:
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("Received %s frame from unknown address %s", frame.Kind, addr),
			"error", domain.ErrPeerUnknownAddress)

	case frame.Kind == wire.KindAck:
		s.handleAck(nickname, frame)

	case frame.Kind == wire.KindData:
		s.handleData(nickname, addr, frame, encrypted)

	default:
		s.logger.Debugw("ignored frame", "nickname", nickname, "kind", frame.Kind)
	}
}

func (s *Server) register(addr *net.UDPAddr, nickname domain.Nickname) {
	if _, err := s.registry.Add(nickname, addr.String(), addr); err != nil {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("ignored identity from %s: %v", addr, err))
		return
	}
	s.hub.Log(domain.LevelSuccess,
		fmt.Sprintf("%s connected from %s (UDP - %s)", nickname, addr, s.env.Describe()),
		"nickname", nickname)

	welcome := "Connected to server! (UDP mode - no encryption)"
	if s.env.Enabled() {
		welcome = fmt.Sprintf("Connected to server! UDP encryption enabled (%s)", s.env.Describe())
	}
	if _, err := s.sendData(nickname, addr, welcome, ""); err != nil {
		s.hub.Log(domain.LevelError, fmt.Sprintf("failed to welcome %s: %v", nickname, err))
	}
}

func (s *Server) handleAck(nickname domain.Nickname, frame wire.Frame) {
	if s.simulateDrop(nickname, ports.Inbound, wire.KindAck) {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("[SIMULATED DROP] ACK from %s", nickname))
		return
	}

	now := time.Now()
	var latency float64
	acked := false
	s.registry.With(nickname, func(sess *services.Session[*net.UDPAddr]) {
		p, ok := sess.Outbox.Ack(frame.ID)
		if !ok {
			return
		}
		acked = true
		latency = utils.Millis(now.Sub(p.SentAt))
		sess.Stats.Acks++
		sess.Stats.RecordLatency(latency)
	})
	s.opts.Metrics.FrameReceived(domain.TransportUDP, wire.KindAck)
	if acked {
		s.opts.Metrics.Latency(domain.TransportUDP, latency)
	}
}

// handleData acknowledges every copy of a message, duplicates included,
// and delivers only the first.
func (s *Server) handleData(nickname domain.Nickname, addr *net.UDPAddr, frame wire.Frame, encrypted bool) {
	if s.simulateDrop(nickname, ports.Inbound, wire.KindData) {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("[SIMULATED DROP] Message from %s", nickname))
		return
	}

	now := time.Now()
	duplicate := false
	s.registry.With(nickname, func(sess *services.Session[*net.UDPAddr]) {
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
	s.opts.Metrics.FrameReceived(domain.TransportUDP, wire.KindData)

	s.sendAck(nickname, addr, frame.ID)

	if duplicate {
		s.opts.Metrics.Duplicate(domain.TransportUDP)
		s.logger.Debugw("duplicate suppressed", "nickname", nickname, "id", frame.ID)
		return
	}
	s.opts.Metrics.Latency(domain.TransportUDP, utils.Millis(now.Sub(frame.SentAt)))

	text := wire.SplitSender(frame.Text, string(nickname))
	s.hub.Log(domain.LevelMessage, fmt.Sprintf("%s: %s", nickname, text), "nickname", nickname)
	s.registry.AddConversation(nickname, text, domain.OriginRemote)
}

func (s *Server) sendAck(nickname domain.Nickname, addr *net.UDPAddr, id uint64) {
	payload, err := s.env.Seal(wire.EncodeAck(id))
	if err != nil {
		s.hub.Log(domain.LevelError, fmt.Sprintf("failed to seal ACK for %s: %v", nickname, err))
		return
	}
	if s.simulateDrop(nickname, ports.Outbound, wire.KindAck) {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("[SIMULATED DROP] ACK to %s", nickname))
		return
	}
	if err := s.write(addr, payload, wire.KindAck); err != nil {
		s.hub.Log(domain.LevelError, fmt.Sprintf("failed to send ACK to %s: %v", nickname, err))
	}
}

// sendData tracks a new data frame for nickname and transmits it. The
// frame stays tracked even when the first transmission fails.
func (s *Server) sendData(nickname domain.Nickname, addr *net.UDPAddr, text, display string) (uint64, error) {
	id := s.ids.Next()
	now := time.Now()
	payload, err := s.env.Seal(wire.EncodeData(id, now, text))
	if err != nil {
		return id, fmt.Errorf("seal: %w", err)
	}

	encrypted := s.env.Enabled()
	tracked := s.registry.With(nickname, func(sess *services.Session[*net.UDPAddr]) {
		sess.Outbox.Track(domain.PendingSend{
			ID:       id,
			Payload:  payload,
			SentAt:   now,
			Nickname: nickname,
			Text:     display,
		})
		sess.Stats.Sent++
		if encrypted {
			sess.Stats.EncryptedMessages++
		}
	})
	if !tracked {
		return id, domain.ErrPeerNotFound
	}

	if s.simulateDrop(nickname, ports.Outbound, wire.KindData) {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("[SIMULATED DROP] Server → %s", nickname))
		return id, nil
	}
	return id, s.write(addr, payload, wire.KindData)
}

func (s *Server) write(addr *net.UDPAddr, payload []byte, kind wire.Kind) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		return err
	}
	s.opts.Metrics.FrameSent(domain.TransportUDP, kind)
	return nil
}

// simulateDrop consults the loss simulator and counts a drop against
// nickname.
func (s *Server) simulateDrop(nickname domain.Nickname, dir ports.Direction, kind wire.Kind) bool {
	if !s.opts.Loss.ShouldDrop(dir, kind) {
		return false
	}
	s.registry.With(nickname, func(sess *services.Session[*net.UDPAddr]) {
		sess.Stats.SimulatedDrops++
	})
	s.opts.Metrics.SimulatedDrop(domain.TransportUDP, dir)
	return true
}

// Send queues a server message to one peer. Unknown peers report false.
func (s *Server) Send(ctx context.Context, target domain.Nickname, text string) bool {
	ctx, span := tracing.TraceSend(ctx, string(domain.TransportUDP), string(target))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now())

	if err := validation.ValidateMessageText(text); err != nil {
		s.hub.Log(domain.LevelWarning, fmt.Sprintf("message to %s rejected: %v", target, err))
		return false
	}
	addr, ok := s.registry.Endpoint(target)
	if !ok {
		return false
	}

	id, err := s.sendData(target, addr, transport.ServerPrefix+text, text)
	tracing.AddSpanAttributes(ctx, tracing.MessageIDKey.Int64(int64(id)))
	if err != nil {
		tracing.RecordError(ctx, err)
		s.hub.Log(domain.LevelError, fmt.Sprintf("Failed to send message to %s: %v", target, err))
		return false
	}

	if s.env.Enabled() {
		s.hub.Log(domain.LevelSuccess, fmt.Sprintf("Encrypted message sent to %s", target))
	} else {
		s.hub.Log(domain.LevelSuccess, fmt.Sprintf("Server → %s: %s", target, utils.Preview(text, 80)))
	}
	s.registry.AddConversation(target, text, domain.OriginLocal)
	return true
}

func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.opts.Policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.lifecycle.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// sweep resends overdue frames. A peer whose frame ran out of retries is
// disconnected; other peers are unaffected.
func (s *Server) sweep(now time.Time) {
	for _, r := range s.registry.Sweep(now) {
		if len(r.Failed) > 0 {
			s.hub.Log(domain.LevelError,
				fmt.Sprintf("%s: %d message(s) failed after %d retries, disconnecting",
					r.Nickname, len(r.Failed), s.opts.Policy.MaxRetries),
				"nickname", r.Nickname)
			s.removePeer(r.Nickname)
			continue
		}
		for _, p := range r.Retransmit {
			s.opts.Metrics.Retransmission(domain.TransportUDP)
			if s.simulateDrop(r.Nickname, ports.Outbound, wire.KindData) {
				s.hub.Log(domain.LevelWarning, fmt.Sprintf("[SIMULATED DROP] Retransmission to %s", r.Nickname))
				continue
			}
			if err := s.write(r.Endpoint, p.Payload, wire.KindData); err != nil {
				s.hub.Log(domain.LevelError, fmt.Sprintf("retransmission to %s failed: %v", r.Nickname, err))
				continue
			}
			s.logger.Debugw("retransmitted", "nickname", r.Nickname, "id", p.ID, "retry", p.Retries)
		}
	}
}

func (s *Server) removePeer(nickname domain.Nickname) {
	removed, ok := s.registry.Remove(nickname)
	if !ok {
		return
	}
	s.opts.Forget(addrKey(removed.Endpoint))
	s.hub.Log(domain.LevelWarning, fmt.Sprintf("%s disconnected", nickname), "nickname", nickname,
		"pending", len(removed.Pending))
}

// Disconnect stops the server.
func (s *Server) Disconnect() {
	s.Stop()
}

func (s *Server) Stop() {
	if !s.lifecycle.End() {
		return
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	for _, r := range s.registry.Clear() {
		s.opts.Forget(addrKey(r.Endpoint))
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
	return domain.TransportUDP
}
