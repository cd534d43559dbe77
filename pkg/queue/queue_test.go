package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	assert.Nil(t, q.Drain())

	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, q.Drain())
	assert.Zero(t, q.Len())
	assert.Nil(t, q.Drain())
}

func TestQueue_ZeroValue(t *testing.T) {
	var q Queue[string]
	q.Push("a")
	assert.Equal(t, []string{"a"}, q.Drain())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		total += len(q.Drain())
		select {
		case <-done:
			total += len(q.Drain())
			assert.Equal(t, producers*perProducer, total)
			return
		default:
		}
	}
}

func TestQueue_Ready(t *testing.T) {
	q := New[int]()

	ready := q.Ready()
	select {
	case <-ready:
		t.Fatal("ready before push")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(1)
	}()

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("push did not signal readiness")
	}

	// Items already waiting: Ready is immediately closed.
	select {
	case <-q.Ready():
	default:
		t.Fatal("expected closed channel while items are queued")
	}
	require.Equal(t, []int{1}, q.Drain())
}
