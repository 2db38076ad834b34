package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"empty payload", &Frame{Type: FrameHeartbeat, Channel: 0, Payload: nil}},
		{"method frame", &Frame{Type: FrameMethod, Channel: 1, Payload: []byte{0, 10, 0, 10}}},
		{"large channel", &Frame{Type: FrameBody, Channel: 65535, Payload: []byte("hello world")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			require.NoError(t, WriteFrame(w, tc.frame))

			got, err := ReadFrame(bufio.NewReader(&buf))
			require.NoError(t, err)
			assert.Equal(t, tc.frame.Type, got.Type)
			assert.Equal(t, tc.frame.Channel, got.Channel)
			assert.Equal(t, tc.frame.Payload, got.Payload)
		})
	}
}

func TestReadFrameRejectsBadEndOctet(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{FrameMethod, 0, 0, 0, 0, 0, 0})
	buf.WriteByte(0x00) // wrong end marker

	_, err := ReadFrame(bufio.NewReader(&buf))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{FrameMethod, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadFrame(bufio.NewReader(&buf))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestMethodHeaderRoundTrip(t *testing.T) {
	payload := EncodeMethodHeader(ClassQueue, MethodQueueDeclare, []byte{1, 2, 3})
	hdr, args, err := DecodeMethodHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(ClassQueue), hdr.ClassID)
	assert.Equal(t, uint16(MethodQueueDeclare), hdr.MethodID)
	assert.Equal(t, []byte{1, 2, 3}, args)
}

func TestContentHeaderRoundTrip(t *testing.T) {
	ct := "text/plain"
	props := BasicProperties{ContentType: &ct}
	payload := EncodeContentHeader(ClassBasic, 42, props)

	decoded, err := DecodeContentHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(ClassBasic), decoded.ClassID)
	assert.EqualValues(t, 42, decoded.BodySize)
	require.NotNil(t, decoded.Properties.ContentType)
	assert.Equal(t, "text/plain", *decoded.Properties.ContentType)
	// DeliveryMode is always written even though we never set one.
	require.NotNil(t, decoded.Properties.DeliveryMode)
	assert.EqualValues(t, 1, *decoded.Properties.DeliveryMode)
}
