package wire

import (
	"bytes"
	"strings"
	"time"
)

const (
	streamMarker = "|TS:"
	streamEnd    = '|'
)

// StreamFrame is one chat message read from a stream connection.
type StreamFrame struct {
	Text         string
	SentAt       time.Time
	HasTimestamp bool
}

// EncodeStream appends the send timestamp to text.
func EncodeStream(text string, sentAt time.Time) string {
	return text + streamMarker + FormatTimestamp(sentAt) + string(streamEnd)
}

// ParseStream parses a single stream message. The trailer is the first
// "|TS:" followed by a well-formed timestamp, so text may itself contain
// the marker. Without one, HasTimestamp=false and the text ends at the
// first marker.
func ParseStream(msg string) StreamFrame {
	for from := 0; ; {
		i := strings.Index(msg[from:], streamMarker)
		if i < 0 {
			break
		}
		i += from
		end, state := scanTrailer([]byte(msg), i)
		if state != trailerInvalid {
			tsEnd := len(msg)
			if state == trailerComplete {
				tsEnd = end - 1
			}
			if ts, err := ParseTimestamp(msg[i+len(streamMarker) : tsEnd]); err == nil {
				return StreamFrame{Text: msg[:i], SentAt: ts, HasTimestamp: true}
			}
		}
		from = i + 1
	}

	text, _, _ := strings.Cut(msg, streamMarker)
	return StreamFrame{Text: text}
}

type trailerState int

const (
	trailerInvalid trailerState = iota
	trailerPartial
	trailerComplete
)

// scanTrailer checks the bytes after the marker at i. A complete trailer
// is one or more digits or dots closed by '|'; end is the index just past
// the closing byte.
func scanTrailer(buf []byte, i int) (end int, state trailerState) {
	digits := 0
	for k := i + len(streamMarker); k < len(buf); k++ {
		switch c := buf[k]; {
		case c == streamEnd:
			if digits == 0 {
				return 0, trailerInvalid
			}
			return k + 1, trailerComplete
		case c == '.' || (c >= '0' && c <= '9'):
			digits++
		default:
			return 0, trailerInvalid
		}
	}
	return 0, trailerPartial
}

// StreamDecoder recovers message boundaries on a byte stream from the
// "|TS:<ts>|" trailer every message carries. Bytes still waiting for a
// trailer are returned by Flush; readers call it once the connection goes
// idle so peers that never send trailers are still delivered. Not safe for
// concurrent use.
type StreamDecoder struct {
	buf []byte
}

// Feed appends data and returns every complete frame.
func (d *StreamDecoder) Feed(data []byte) []StreamFrame {
	d.buf = append(d.buf, data...)

	var frames []StreamFrame
	for from := 0; ; {
		i := bytes.Index(d.buf[from:], []byte(streamMarker))
		if i < 0 {
			break
		}
		i += from
		end, state := scanTrailer(d.buf, i)
		switch state {
		case trailerPartial:
			// trailer still arriving
			return frames
		case trailerInvalid:
			// marker is part of the text
			from = i + 1
			continue
		}
		frames = append(frames, ParseStream(string(d.buf[:end])))
		d.buf = d.buf[end:]
		from = 0
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

// Flush returns whatever is buffered as one frame.
func (d *StreamDecoder) Flush() (StreamFrame, bool) {
	if len(d.buf) == 0 {
		return StreamFrame{}, false
	}
	f := ParseStream(string(d.buf))
	d.buf = nil
	return f, true
}

// Buffered returns the number of bytes waiting for a trailer.
func (d *StreamDecoder) Buffered() int {
	return len(d.buf)
}
