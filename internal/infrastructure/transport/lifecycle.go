package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
)

// Lifecycle tracks the running flag and goroutines of one side.
// A side starts at most once.
type Lifecycle struct {
	started atomic.Bool
	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Begin marks the side running. It reports false on a second call.
func (l *Lifecycle) Begin() bool {
	if !l.started.CompareAndSwap(false, true) {
		return false
	}
	l.done = make(chan struct{})
	l.running.Store(true)
	return true
}

func (l *Lifecycle) Running() bool {
	return l.running.Load()
}

// End clears the running flag. Only the first caller gets true.
func (l *Lifecycle) End() bool {
	if !l.running.CompareAndSwap(true, false) {
		return false
	}
	close(l.done)
	return true
}

// Done is closed by End. Only valid after Begin.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

func (l *Lifecycle) Go(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// Wait blocks until every goroutine started with Go returns. Never call
// it from one of those goroutines.
func (l *Lifecycle) Wait() {
	l.wg.Wait()
}

// IsTimeout reports a read deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports use of a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
