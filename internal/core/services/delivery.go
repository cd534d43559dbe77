package services

import (
	"sort"
	"sync/atomic"
	"time"

	"chathub/internal/core/domain"
)

type DeliveryPolicy struct {
	AckTimeout    time.Duration
	MaxRetries    int
	SweepInterval time.Duration
}

func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		AckTimeout:    2 * time.Second,
		MaxRetries:    5,
		SweepInterval: 100 * time.Millisecond,
	}
}

// Outbox holds the unacknowledged datagrams of one session.
// It is not locked; the owning Registry serializes access.
type Outbox struct {
	pending map[uint64]*domain.PendingSend
}

func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[uint64]*domain.PendingSend)}
}

// Track registers a sent frame. A second Track for the same id replaces
// the first.
func (o *Outbox) Track(p domain.PendingSend) {
	if p.FirstSentAt.IsZero() {
		p.FirstSentAt = p.SentAt
	}
	o.pending[p.ID] = &p
}

// Ack removes and returns the entry for id. Acks for unknown or already
// acknowledged ids report false.
func (o *Outbox) Ack(id uint64) (domain.PendingSend, bool) {
	p, ok := o.pending[id]
	if !ok {
		return domain.PendingSend{}, false
	}
	delete(o.pending, id)
	return *p, true
}

func (o *Outbox) Len() int {
	return len(o.pending)
}

// Sweep advances every entry older than the ack timeout. Entries with
// retries left are bumped and returned for resending; the rest are removed
// and returned as failed. Both slices are ordered by id.
func (o *Outbox) Sweep(now time.Time, policy DeliveryPolicy) (retransmit, failed []domain.PendingSend) {
	for id, p := range o.pending {
		if now.Sub(p.SentAt) <= policy.AckTimeout {
			continue
		}
		if p.Retries < policy.MaxRetries {
			p.Retries++
			p.SentAt = now
			retransmit = append(retransmit, *p)
			continue
		}
		delete(o.pending, id)
		failed = append(failed, *p)
	}

	sort.Slice(retransmit, func(i, j int) bool { return retransmit[i].ID < retransmit[j].ID })
	sort.Slice(failed, func(i, j int) bool { return failed[i].ID < failed[j].ID })
	return retransmit, failed
}

// Clear drops every entry and returns them.
func (o *Outbox) Clear() []domain.PendingSend {
	out := make([]domain.PendingSend, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, *p)
	}
	o.pending = make(map[uint64]*domain.PendingSend)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DedupWindow remembers every message id delivered in one session.
type DedupWindow struct {
	seen map[uint64]struct{}
}

func NewDedupWindow() *DedupWindow {
	return &DedupWindow{seen: make(map[uint64]struct{})}
}

// Observe records id and reports whether it had been seen before.
func (d *DedupWindow) Observe(id uint64) (duplicate bool) {
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func (d *DedupWindow) Len() int {
	return len(d.seen)
}

// IDSequence hands out message ids for one sender, starting at 0.
type IDSequence struct {
	next atomic.Uint64
}

func (s *IDSequence) Next() uint64 {
	return s.next.Add(1) - 1
}
