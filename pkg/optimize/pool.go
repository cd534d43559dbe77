package optimize

import (
	"sync"
)

// BufferPool hands out fixed-size receive buffers. Buffers are stored as
// *[]byte so Put does not allocate.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of buffers of the given size
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Size returns the length of buffers returned by Get
func (p *BufferPool) Size() int {
	return p.size
}

// Get gets a full-length buffer from the pool
func (p *BufferPool) Get() *[]byte {
	b := p.pool.Get().(*[]byte)
	*b = (*b)[:p.size]
	return b
}

// Put returns a buffer to the pool. Undersized buffers are dropped.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) < p.size {
		return
	}
	p.pool.Put(b)
}

// CopyBytes returns an owned copy of b[:n] so the buffer can go back to
// the pool while the frame is still in use.
func CopyBytes(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b[:n])
	return out
}
