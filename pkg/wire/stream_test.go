package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStream_ParseStream(t *testing.T) {
	sentAt := time.Unix(1700000000, 250000000)
	raw := EncodeStream("alice: hi | there", sentAt)
	assert.Equal(t, "alice: hi | there|TS:1700000000.250000|", raw)

	f := ParseStream(raw)
	assert.Equal(t, "alice: hi | there", f.Text)
	assert.True(t, f.HasTimestamp)
	assert.True(t, f.SentAt.Equal(sentAt))
}

func TestParseStream_Tolerant(t *testing.T) {
	f := ParseStream("no trailer")
	assert.Equal(t, "no trailer", f.Text)
	assert.False(t, f.HasTimestamp)

	f = ParseStream("bad|TS:later|")
	assert.Equal(t, "bad", f.Text)
	assert.False(t, f.HasTimestamp)

	f = ParseStream("open|TS:1700000000.0")
	assert.Equal(t, "open", f.Text)
	assert.True(t, f.HasTimestamp)
}

func TestStreamDecoder_Coalesced(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var d StreamDecoder

	frames := d.Feed([]byte(EncodeStream("one", now) + EncodeStream("two", now) + EncodeStream("three", now)))
	require.Len(t, frames, 3)
	assert.Equal(t, "one", frames[0].Text)
	assert.Equal(t, "two", frames[1].Text)
	assert.Equal(t, "three", frames[2].Text)
	assert.Zero(t, d.Buffered())
}

func TestStreamDecoder_Split(t *testing.T) {
	raw := EncodeStream("hello world", time.Unix(1700000000, 0))
	var d StreamDecoder

	// Feed one byte at a time; exactly one frame must appear, at the end.
	var frames []StreamFrame
	for i := 0; i < len(raw); i++ {
		got := d.Feed([]byte{raw[i]})
		if i < len(raw)-1 {
			assert.Empty(t, got, "premature frame at byte %d", i)
		}
		frames = append(frames, got...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, "hello world", frames[0].Text)
	assert.True(t, frames[0].HasTimestamp)
}

func TestStreamDecoder_FlushWithoutTrailer(t *testing.T) {
	var d StreamDecoder

	assert.Empty(t, d.Feed([]byte("plain text from netcat\n")))
	assert.Equal(t, len("plain text from netcat\n"), d.Buffered())

	f, ok := d.Flush()
	require.True(t, ok)
	assert.Equal(t, "plain text from netcat\n", f.Text)
	assert.False(t, f.HasTimestamp)

	_, ok = d.Flush()
	assert.False(t, ok)
}

func TestStreamDecoder_FrameThenPartial(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var d StreamDecoder

	frames := d.Feed([]byte(EncodeStream("first", now) + "sec"))
	require.Len(t, frames, 1)
	assert.Equal(t, "first", frames[0].Text)

	frames = d.Feed([]byte("ond|TS:1700000000.000000|"))
	require.Len(t, frames, 1)
	assert.Equal(t, "second", frames[0].Text)
}

func TestStreamDecoder_MarkerInText(t *testing.T) {
	sentAt := time.Unix(1700000000, 0)
	raw := EncodeStream("alice: look |TS: here", sentAt) + EncodeStream("bob: |TS:|", sentAt)

	var d StreamDecoder
	frames := d.Feed([]byte(raw))
	require.Len(t, frames, 2)
	assert.Equal(t, "alice: look |TS: here", frames[0].Text)
	assert.True(t, frames[0].HasTimestamp)
	assert.True(t, frames[0].SentAt.Equal(sentAt))
	assert.Equal(t, "bob: |TS:|", frames[1].Text)
	assert.True(t, frames[1].HasTimestamp)

	_, ok := d.Flush()
	assert.False(t, ok, "nothing left over")
}

func TestStreamDecoder_MarkerInTextSplit(t *testing.T) {
	raw := EncodeStream("look |TS:12 apples", time.Unix(1700000000, 0))
	var d StreamDecoder

	var frames []StreamFrame
	for i := 0; i < len(raw); i++ {
		frames = append(frames, d.Feed([]byte{raw[i]})...)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, "look |TS:12 apples", frames[0].Text)
	assert.True(t, frames[0].HasTimestamp)
	assert.Zero(t, d.Buffered())
}
