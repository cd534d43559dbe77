package services

import (
	"fmt"
	"sync"
	"time"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/pkg/utils"
	"chathub/pkg/validation"
)

type RegistryConfig struct {
	Transport domain.Transport
	Policy    DeliveryPolicy
	LossRate  float64
	// Reliable sessions carry an Outbox and a DedupWindow.
	Reliable bool
	Secure   bool
}

// Session is everything one side knows about one peer.
type Session[E any] struct {
	Peer     domain.Peer
	Endpoint E
	Stats    *PeerStats
	Outbox   *Outbox
	Dedup    *DedupWindow
}

// Removed is what is left of a session after Remove or Clear.
type Removed[E any] struct {
	Peer     domain.Peer
	Endpoint E
	Stats    domain.StatsSnapshot
	Pending  []domain.PendingSend
}

type SweepResult[E any] struct {
	Nickname   domain.Nickname
	Endpoint   E
	Retransmit []domain.PendingSend
	Failed     []domain.PendingSend
}

// Registry is the single owner of a side's peer state. One mutex guards
// every session, its stats, outbox and dedup window. Callbacks passed to
// With and WithKey run under that mutex and must not do socket I/O.
type Registry[E any] struct {
	mu sync.Mutex

	cfg   RegistryConfig
	keyOf func(E) string

	byNick        map[domain.Nickname]*Session[E]
	byKey         map[string]*Session[E]
	order         []domain.Nickname
	conversations map[domain.Nickname][]domain.ConversationEntry

	hub     *Hub
	metrics ports.MetricsRecorder
}

func NewRegistry[E any](cfg RegistryConfig, keyOf func(E) string, hub *Hub, metrics ports.MetricsRecorder) *Registry[E] {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if hub == nil {
		hub = NewHub(nil)
	}
	return &Registry[E]{
		cfg:           cfg,
		keyOf:         keyOf,
		byNick:        make(map[domain.Nickname]*Session[E]),
		byKey:         make(map[string]*Session[E]),
		conversations: make(map[domain.Nickname][]domain.ConversationEntry),
		hub:           hub,
		metrics:       metrics,
	}
}

// Add registers an active peer. The conversation log of a returning
// nickname starts over.
func (r *Registry[E]) Add(nickname domain.Nickname, remoteAddr string, endpoint E) (domain.Peer, error) {
	if err := validation.ValidateNickname(string(nickname)); err != nil {
		return domain.Peer{}, fmt.Errorf("%w: %v", domain.ErrInvalidNickname, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byNick[nickname]; exists {
		return domain.Peer{}, fmt.Errorf("%w: %s", domain.ErrNicknameInUse, nickname)
	}
	key := r.keyOf(endpoint)
	if _, exists := r.byKey[key]; exists {
		return domain.Peer{}, fmt.Errorf("endpoint %s already registered", key)
	}

	s := &Session[E]{
		Peer: domain.Peer{
			Nickname:    nickname,
			SessionID:   utils.NewSessionID(),
			RemoteAddr:  remoteAddr,
			Transport:   r.cfg.Transport,
			State:       domain.PeerActive,
			ConnectedAt: time.Now(),
		},
		Endpoint: endpoint,
		Stats:    NewPeerStats(),
	}
	if r.cfg.Reliable {
		s.Outbox = NewOutbox()
		s.Dedup = NewDedupWindow()
	}

	r.byNick[nickname] = s
	r.byKey[key] = s
	r.order = append(r.order, nickname)
	r.conversations[nickname] = nil

	r.membershipChangedLocked()
	return s.Peer, nil
}

func (r *Registry[E]) Endpoint(nickname domain.Nickname) (E, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byNick[nickname]
	if !ok {
		var zero E
		return zero, false
	}
	return s.Endpoint, true
}

func (r *Registry[E]) NicknameFor(endpoint E) (domain.Nickname, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byKey[r.keyOf(endpoint)]
	if !ok {
		return "", false
	}
	return s.Peer.Nickname, true
}

// With runs fn on the named session under the registry lock.
func (r *Registry[E]) With(nickname domain.Nickname, fn func(*Session[E])) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byNick[nickname]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// WithKey is With keyed by endpoint.
func (r *Registry[E]) WithKey(endpoint E, fn func(*Session[E])) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byKey[r.keyOf(endpoint)]
	if !ok {
		return false
	}
	fn(s)
	return true
}

// Remove tears a peer down. Only the first of several concurrent callers
// gets ok=true, so teardown side effects run exactly once.
func (r *Registry[E]) Remove(nickname domain.Nickname) (Removed[E], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byNick[nickname]
	if !ok {
		return Removed[E]{}, false
	}
	out := r.removeLocked(s)
	r.membershipChangedLocked()
	return out, true
}

func (r *Registry[E]) removeLocked(s *Session[E]) Removed[E] {
	out := Removed[E]{
		Endpoint: s.Endpoint,
		Stats:    s.Stats.Snapshot(r.metaLocked(s)),
	}
	if s.Outbox != nil {
		out.Pending = s.Outbox.Clear()
	}

	s.Peer.State = domain.PeerDisconnected
	out.Peer = s.Peer

	delete(r.byNick, s.Peer.Nickname)
	delete(r.byKey, r.keyOf(s.Endpoint))
	for i, n := range r.order {
		if n == s.Peer.Nickname {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return out
}

// Clear removes every peer and publishes the empty list once.
func (r *Registry[E]) Clear() []Removed[E] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Removed[E], 0, len(r.order))
	for _, n := range append([]domain.Nickname(nil), r.order...) {
		out = append(out, r.removeLocked(r.byNick[n]))
	}
	r.membershipChangedLocked()
	return out
}

// Nicknames returns active peers in join order.
func (r *Registry[E]) Nicknames() []domain.Nickname {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Nickname(nil), r.order...)
}

func (r *Registry[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Peer returns a copy of the peer record.
func (r *Registry[E]) Peer(nickname domain.Nickname) (domain.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byNick[nickname]
	if !ok {
		return domain.Peer{}, false
	}
	return s.Peer, true
}

// Snapshot returns the stats of nickname, or nil when it is not connected.
func (r *Registry[E]) Snapshot(nickname domain.Nickname) *domain.StatsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byNick[nickname]
	if !ok {
		return nil
	}
	snap := s.Stats.Snapshot(r.metaLocked(s))
	return &snap
}

func (r *Registry[E]) metaLocked(s *Session[E]) SnapshotMeta {
	meta := SnapshotMeta{
		Nickname:           s.Peer.Nickname,
		ConnectedAt:        s.Peer.ConnectedAt,
		Protocol:           r.cfg.Transport,
		Policy:             r.cfg.Policy,
		ConfiguredLossRate: r.cfg.LossRate,
		SSLEnabled:         r.cfg.Secure,
	}
	if s.Outbox != nil {
		meta.Pending = s.Outbox.Len()
	}
	return meta
}

// SetSecure records whether the transport is actually encrypted.
func (r *Registry[E]) SetSecure(secure bool) {
	r.mu.Lock()
	r.cfg.Secure = secure
	r.mu.Unlock()
}

func (r *Registry[E]) Secure() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Secure
}

func (r *Registry[E]) Policy() DeliveryPolicy {
	return r.cfg.Policy
}

// AddConversation appends to the log of nickname and publishes the entry.
// Logs outlive the session so a dashboard can still show them.
func (r *Registry[E]) AddConversation(nickname domain.Nickname, text string, origin domain.Origin) {
	entry := domain.ConversationEntry{Time: time.Now(), Text: text, Origin: origin}

	r.mu.Lock()
	r.conversations[nickname] = append(r.conversations[nickname], entry)
	r.mu.Unlock()

	r.hub.PublishConversation(nickname, entry)
}

func (r *Registry[E]) Conversation(nickname domain.Nickname) []domain.ConversationEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConversationEntry(nil), r.conversations[nickname]...)
}

// Sweep runs the retransmission state machine over every reliable session.
// Counters are updated here; the caller performs the resends and tears
// down sessions that report failures. A session with failures gets no
// retransmissions.
func (r *Registry[E]) Sweep(now time.Time) []SweepResult[E] {
	r.mu.Lock()
	defer r.mu.Unlock()

	var results []SweepResult[E]
	for _, n := range r.order {
		s := r.byNick[n]
		if s.Outbox == nil || s.Outbox.Len() == 0 {
			continue
		}
		retransmit, failed := s.Outbox.Sweep(now, r.cfg.Policy)
		if len(retransmit) == 0 && len(failed) == 0 {
			continue
		}
		if len(failed) > 0 {
			s.Stats.PacketLoss += uint64(len(failed))
			r.metrics.PermanentLoss(r.cfg.Transport, len(failed))
			retransmit = nil
		} else {
			s.Stats.Retransmissions += uint64(len(retransmit))
		}
		results = append(results, SweepResult[E]{
			Nickname:   n,
			Endpoint:   s.Endpoint,
			Retransmit: retransmit,
			Failed:     failed,
		})
	}
	return results
}

func (r *Registry[E]) membershipChangedLocked() {
	r.metrics.PeersActive(r.cfg.Transport, len(r.order))
	r.hub.PublishPeers(r.order)
}
