package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeData_ParseDatagram(t *testing.T) {
	sentAt := time.Unix(1700000000, 123456000)
	raw := EncodeData(7, sentAt, "alice: hi: there: friend")
	assert.Equal(t, "MSG:7:1700000000.123456:alice: hi: there: friend", raw)

	f, err := ParseDatagram(raw)
	require.NoError(t, err)
	assert.Equal(t, KindData, f.Kind)
	assert.Equal(t, uint64(7), f.ID)
	assert.Equal(t, "alice: hi: there: friend", f.Text)
	assert.True(t, f.SentAt.Equal(sentAt), "got %v", f.SentAt)
}

func TestParseDatagram(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    Kind
		id      uint64
		text    string
		wantErr error
	}{
		{"ack", "ACK:42", KindAck, 42, "", nil},
		{"ack with trailing field", "ACK:42:x", KindAck, 42, "", nil},
		{"disconnect", "DISCONNECT:alice", KindDisconnect, 0, "alice", nil},
		{"nick prompt", "NICK", KindNick, 0, "", nil},
		{"identity", "alice", KindIdentity, 0, "alice", nil},
		{"identity trimmed", "  bob \n", KindIdentity, 0, "bob", nil},
		{"empty data text", "MSG:1:1700000000.5:", KindData, 1, "", nil},
		{"empty", "", KindUnknown, 0, "", ErrUnknownFrame},
		{"whitespace", " \r\n", KindUnknown, 0, "", ErrUnknownFrame},
		{"data missing fields", "MSG:1:2", KindData, 0, "", ErrMalformedFrame},
		{"data bad id", "MSG:x:1700000000.0:hi", KindData, 0, "", ErrMalformedFrame},
		{"data negative id", "MSG:-1:1700000000.0:hi", KindData, 0, "", ErrMalformedFrame},
		{"data bad timestamp", "MSG:3:soon:hi", KindData, 3, "", ErrMalformedFrame},
		{"ack bad id", "ACK:abc", KindAck, 0, "", ErrMalformedFrame},
		{"ack empty id", "ACK:", KindAck, 0, "", ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseDatagram(tt.payload)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.text, f.Text)
			}
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.id, f.ID)
		})
	}
}

func TestEncodeAckAndDisconnect(t *testing.T) {
	assert.Equal(t, "ACK:0", EncodeAck(0))
	assert.Equal(t, "ACK:18446744073709551615", EncodeAck(^uint64(0)))
	assert.Equal(t, "DISCONNECT:bob", EncodeDisconnect("bob"))
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 45, 987654000, time.UTC)
	s := FormatTimestamp(ts)
	assert.Equal(t, "1714566645.987654", s)

	got, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, got.Equal(ts), "got %v want %v", got, ts)

	// Timestamps without a fractional part are accepted.
	got, err = ParseTimestamp("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.Unix())

	for _, bad := range []string{"", "abc", "NaN", "Inf", "-5"} {
		_, err := ParseTimestamp(bad)
		assert.Error(t, err, bad)
	}
}

func TestSplitSender(t *testing.T) {
	assert.Equal(t, "hello", SplitSender("alice: hello", "alice"))
	assert.Equal(t, "bob: hello", SplitSender("bob: hello", "alice"))
	assert.Equal(t, "hello", SplitSender("hello", "alice"))
	assert.Equal(t, "alice: hi", WithSender("alice", "hi"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "data", KindData.String())
	assert.Equal(t, "ack", KindAck.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
