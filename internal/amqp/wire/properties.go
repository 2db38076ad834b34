package wire

import (
	"encoding/binary"
	"fmt"
)

// BasicProperties holds the basic-class content properties carried on a
// content-header frame. Pointers distinguish "absent" from "zero value"
// except for DeliveryMode, which the broker always sets (see EncodeBasicProperties).
type BasicProperties struct {
	ContentType     *string
	ContentEncoding *string
	Headers         Table
	DeliveryMode    *uint8
	Priority        *uint8
	CorrelationID   *string
	ReplyTo         *string
	Expiration      *string
	MessageID       *string
	Timestamp       *int64
	Type            *string
	UserID          *string
	AppID           *string
}

// DecodeBasicProperties reads the property-flags word followed by the
// present fields, in the fixed order the flags enumerate.
func DecodeBasicProperties(b []byte) (*BasicProperties, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: property flags missing", ErrMalformedFrame)
	}
	flags := binary.BigEndian.Uint16(b[0:2])
	b = b[2:]

	props := &BasicProperties{}
	var err error

	if flags&FlagContentType != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.ContentType = &s
	}
	if flags&FlagContentEncoding != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.ContentEncoding = &s
	}
	if flags&FlagHeaders != 0 {
		var t Table
		if t, b, err = DecodeTable(b); err != nil {
			return nil, err
		}
		props.Headers = t
	}
	if flags&FlagDeliveryMode != 0 {
		if len(b) < 1 {
			return nil, fmt.Errorf("%w: delivery mode truncated", ErrMalformedFrame)
		}
		v := b[0]
		props.DeliveryMode = &v
		b = b[1:]
	}
	if flags&FlagPriority != 0 {
		if len(b) < 1 {
			return nil, fmt.Errorf("%w: priority truncated", ErrMalformedFrame)
		}
		v := b[0]
		props.Priority = &v
		b = b[1:]
	}
	if flags&FlagCorrelationID != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.CorrelationID = &s
	}
	if flags&FlagReplyTo != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.ReplyTo = &s
	}
	if flags&FlagExpiration != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.Expiration = &s
	}
	if flags&FlagMessageID != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.MessageID = &s
	}
	if flags&FlagTimestamp != 0 {
		if len(b) < 8 {
			return nil, fmt.Errorf("%w: timestamp truncated", ErrMalformedFrame)
		}
		v := int64(binary.BigEndian.Uint64(b[:8]))
		props.Timestamp = &v
		b = b[8:]
	}
	if flags&FlagType != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.Type = &s
	}
	if flags&FlagUserID != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.UserID = &s
	}
	if flags&FlagAppID != 0 {
		var s string
		if s, b, err = decodeShortString(b); err != nil {
			return nil, err
		}
		props.AppID = &s
	}

	return props, nil
}

// EncodeBasicProperties serializes the property-flags word and present
// fields. DeliveryMode is always written, matching the reference broker:
// persistence mode is a core routing concern, not an optional property.
func EncodeBasicProperties(p BasicProperties) []byte {
	var flags uint16
	var body []byte

	if p.ContentType != nil {
		flags |= FlagContentType
		body = append(body, encodeShortString(*p.ContentType)...)
	}
	if p.ContentEncoding != nil {
		flags |= FlagContentEncoding
		body = append(body, encodeShortString(*p.ContentEncoding)...)
	}
	if p.Headers != nil {
		flags |= FlagHeaders
		body = append(body, EncodeTable(p.Headers)...)
	}

	flags |= FlagDeliveryMode
	mode := uint8(1)
	if p.DeliveryMode != nil {
		mode = *p.DeliveryMode
	}
	body = append(body, mode)

	if p.Priority != nil {
		flags |= FlagPriority
		body = append(body, *p.Priority)
	}
	if p.CorrelationID != nil {
		flags |= FlagCorrelationID
		body = append(body, encodeShortString(*p.CorrelationID)...)
	}
	if p.ReplyTo != nil {
		flags |= FlagReplyTo
		body = append(body, encodeShortString(*p.ReplyTo)...)
	}
	if p.Expiration != nil {
		flags |= FlagExpiration
		body = append(body, encodeShortString(*p.Expiration)...)
	}
	if p.MessageID != nil {
		flags |= FlagMessageID
		body = append(body, encodeShortString(*p.MessageID)...)
	}
	if p.Timestamp != nil {
		flags |= FlagTimestamp
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(*p.Timestamp))
		body = append(body, ts...)
	}
	if p.Type != nil {
		flags |= FlagType
		body = append(body, encodeShortString(*p.Type)...)
	}
	if p.UserID != nil {
		flags |= FlagUserID
		body = append(body, encodeShortString(*p.UserID)...)
	}
	if p.AppID != nil {
		flags |= FlagAppID
		body = append(body, encodeShortString(*p.AppID)...)
	}

	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out[0:2], flags)
	copy(out[2:], body)
	return out
}
