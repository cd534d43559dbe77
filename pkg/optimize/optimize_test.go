package optimize

import (
	"testing"
)

func TestBufferPool(t *testing.T) {
	pool := NewBufferPool(2048)

	buf := pool.Get()
	if len(*buf) != 2048 {
		t.Errorf("expected buffer size 2048, got %d", len(*buf))
	}

	// Shrunk slices come back full length
	*buf = (*buf)[:10]
	pool.Put(buf)

	buf2 := pool.Get()
	if len(*buf2) != 2048 {
		t.Errorf("expected buffer size 2048, got %d", len(*buf2))
	}
	if pool.Size() != 2048 {
		t.Errorf("expected Size() 2048, got %d", pool.Size())
	}
}

func TestBufferPool_DropsUndersized(t *testing.T) {
	pool := NewBufferPool(64)
	small := make([]byte, 8)
	pool.Put(&small)
	pool.Put(nil)

	buf := pool.Get()
	if len(*buf) != 64 {
		t.Errorf("expected buffer size 64, got %d", len(*buf))
	}
}

func TestCopyBytes(t *testing.T) {
	src := []byte("hello world")
	out := CopyBytes(src, 5)
	src[0] = 'X'

	if string(out) != "hello" {
		t.Errorf("CopyBytes() = %q, want %q", out, "hello")
	}
}
