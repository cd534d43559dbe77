// Package queue provides an unbounded FIFO hand-off between producers that
// must never block and a consumer that polls.
package queue

import "sync"

// Queue is safe for concurrent use. The zero value is ready to use.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends v. It never blocks.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	ch := q.notify
	q.notify = nil
	q.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

// Drain removes and returns everything queued, oldest first. It never
// blocks and returns nil when the queue is empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready returns a channel closed by the next Push, or an already closed
// channel when items are waiting. Consumers use it to avoid busy polling.
func (q *Queue[T]) Ready() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if q.notify == nil {
		q.notify = make(chan struct{})
	}
	return q.notify
}
