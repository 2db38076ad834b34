package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedFrame is returned when a frame's trailing octet is not
// FrameEnd, or a length prefix would read past any sane bound.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// MaxFramePayload bounds how large a single frame payload we accept, guarding
// against a peer sending a bogus length prefix and exhausting memory.
const MaxFramePayload = 128 * 1024 * 1024

// Frame is one AMQP frame as it appears on the wire: a type, the channel it
// belongs to (0 for connection-level frames), and its payload bytes.
type Frame struct {
	Type    uint8
	Channel uint16
	Payload []byte
}

// ReadFrame reads one complete frame from r, validating the trailing
// FrameEnd octet.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	var header [7]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	typ := header[0]
	channel := binary.BigEndian.Uint16(header[1:3])
	length := binary.BigEndian.Uint32(header[3:7])
	if length > MaxFramePayload {
		return nil, fmt.Errorf("%w: payload length %d exceeds limit", ErrMalformedFrame, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	var end [1]byte
	if _, err := io.ReadFull(r, end[:]); err != nil {
		return nil, err
	}
	if end[0] != FrameEnd {
		return nil, fmt.Errorf("%w: expected end octet 0x%02x, got 0x%02x", ErrMalformedFrame, FrameEnd, end[0])
	}

	return &Frame{Type: typ, Channel: channel, Payload: payload}, nil
}

// WriteFrame serializes f to w.
func WriteFrame(w *bufio.Writer, f *Frame) error {
	var header [7]byte
	header[0] = f.Type
	binary.BigEndian.PutUint16(header[1:3], f.Channel)
	binary.BigEndian.PutUint32(header[3:7], uint32(len(f.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	if err := w.WriteByte(FrameEnd); err != nil {
		return err
	}
	return w.Flush()
}

// MethodHeader is the class-id/method-id pair every method-frame payload
// starts with.
type MethodHeader struct {
	ClassID  uint16
	MethodID uint16
}

// DecodeMethodHeader reads the leading class-id/method-id pair from a
// method-frame payload, returning the remaining bytes as arguments.
func DecodeMethodHeader(payload []byte) (MethodHeader, []byte, error) {
	if len(payload) < 4 {
		return MethodHeader{}, nil, fmt.Errorf("%w: method frame too short", ErrMalformedFrame)
	}
	return MethodHeader{
		ClassID:  binary.BigEndian.Uint16(payload[0:2]),
		MethodID: binary.BigEndian.Uint16(payload[2:4]),
	}, payload[4:], nil
}

// EncodeMethodHeader prepends a class-id/method-id pair to args.
func EncodeMethodHeader(classID, methodID uint16, args []byte) []byte {
	out := make([]byte, 4+len(args))
	binary.BigEndian.PutUint16(out[0:2], classID)
	binary.BigEndian.PutUint16(out[2:4], methodID)
	copy(out[4:], args)
	return out
}

// ContentHeaderPayload is the decoded form of a FrameHeader payload:
// class-id, weight (always 0), body size, and the raw property flags/fields.
type ContentHeaderPayload struct {
	ClassID    uint16
	BodySize   uint64
	Properties BasicProperties
}

// DecodeContentHeader parses a FrameHeader frame's payload.
func DecodeContentHeader(payload []byte) (*ContentHeaderPayload, error) {
	if len(payload) < 12 {
		return nil, fmt.Errorf("%w: content header too short", ErrMalformedFrame)
	}
	classID := binary.BigEndian.Uint16(payload[0:2])
	// weight at payload[2:4] is always 0, ignored.
	bodySize := binary.BigEndian.Uint64(payload[4:12])
	props, err := DecodeBasicProperties(payload[12:])
	if err != nil {
		return nil, err
	}
	return &ContentHeaderPayload{ClassID: classID, BodySize: bodySize, Properties: *props}, nil
}

// EncodeContentHeader serializes a FrameHeader payload.
func EncodeContentHeader(classID uint16, bodySize uint64, props BasicProperties) []byte {
	encodedProps := EncodeBasicProperties(props)
	out := make([]byte, 12+len(encodedProps))
	binary.BigEndian.PutUint16(out[0:2], classID)
	// weight stays 0.
	binary.BigEndian.PutUint64(out[4:12], bodySize)
	copy(out[12:], encodedProps)
	return out
}
