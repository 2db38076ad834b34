package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Table is a decoded AMQP field table: a string-keyed map of typed values.
// Values are one of bool, int8, uint8, int16, uint16, int32, uint32, int64,
// uint64, float32, float64, string, []byte (binary), Table (nested),
// []interface{} (array), or nil (void).
type Table map[string]interface{}

// DecodeTable parses a long-string-prefixed field table.
func DecodeTable(b []byte) (Table, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: field table length missing", ErrMalformedFrame)
	}
	length := binary.BigEndian.Uint32(b[0:4])
	b = b[4:]
	if uint32(len(b)) < length {
		return nil, nil, fmt.Errorf("%w: field table truncated", ErrMalformedFrame)
	}
	body, rest := b[:length], b[length:]

	table := Table{}
	for len(body) > 0 {
		key, tail, err := decodeShortString(body)
		if err != nil {
			return nil, nil, err
		}
		value, tail2, err := decodeFieldValue(tail)
		if err != nil {
			return nil, nil, err
		}
		table[key] = value
		body = tail2
	}
	return table, rest, nil
}

// EncodeTable serializes t as a long-string-prefixed field table.
func EncodeTable(t Table) []byte {
	var body []byte
	for key, value := range t {
		body = append(body, encodeShortString(key)...)
		body = append(body, encodeFieldValue(value)...)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// DecodeShortString reads a one-octet-length-prefixed string, the shortstr
// encoding AMQP uses for names, routing keys, and consumer/delivery tags.
func DecodeShortString(b []byte) (string, []byte, error) {
	return decodeShortString(b)
}

// EncodeShortString is the exported form of encodeShortString for callers
// outside this package building method-frame arguments by hand.
func EncodeShortString(s string) []byte {
	return encodeShortString(s)
}

func decodeShortString(b []byte) (string, []byte, error) {
	if len(b) < 1 {
		return "", nil, fmt.Errorf("%w: short string length missing", ErrMalformedFrame)
	}
	length := int(b[0])
	b = b[1:]
	if len(b) < length {
		return "", nil, fmt.Errorf("%w: short string truncated", ErrMalformedFrame)
	}
	return string(b[:length]), b[length:], nil
}

func encodeShortString(s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	out := make([]byte, 1+len(s))
	out[0] = byte(len(s))
	copy(out[1:], s)
	return out
}

func decodeLongString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("%w: long string length missing", ErrMalformedFrame)
	}
	length := binary.BigEndian.Uint32(b[0:4])
	b = b[4:]
	if uint32(len(b)) < length {
		return "", nil, fmt.Errorf("%w: long string truncated", ErrMalformedFrame)
	}
	return string(b[:length]), b[length:], nil
}

func encodeLongString(s string) []byte {
	out := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(s)))
	copy(out[4:], s)
	return out
}

// decodeFieldValue decodes one type-tagged field-table value. Tags follow
// the RabbitMQ/AMQP 0.9.1 convention: S=long string, s=short string (used
// rarely, kept for round-tripping), t=bool, b=int8, B=uint8, U=int16,
// u=uint16, I=int32, i=uint32, L=int64, l=uint64, f=float32, d=float64,
// T=timestamp (int64), F=nested table, A=array, V=void, x=binary. Decimal
// values (D) are not decoded: their tag returns the unknown-tag error.
func decodeFieldValue(b []byte) (interface{}, []byte, error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("%w: field value tag missing", ErrMalformedFrame)
	}
	tag := b[0]
	b = b[1:]

	switch tag {
	case 't':
		if len(b) < 1 {
			return nil, nil, fmt.Errorf("%w: bool value truncated", ErrMalformedFrame)
		}
		return b[0] != 0, b[1:], nil
	case 'b':
		if len(b) < 1 {
			return nil, nil, fmt.Errorf("%w: int8 value truncated", ErrMalformedFrame)
		}
		return int8(b[0]), b[1:], nil
	case 'B':
		if len(b) < 1 {
			return nil, nil, fmt.Errorf("%w: uint8 value truncated", ErrMalformedFrame)
		}
		return b[0], b[1:], nil
	case 'U':
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: int16 value truncated", ErrMalformedFrame)
		}
		return int16(binary.BigEndian.Uint16(b[:2])), b[2:], nil
	case 'u':
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: uint16 value truncated", ErrMalformedFrame)
		}
		return binary.BigEndian.Uint16(b[:2]), b[2:], nil
	case 'I':
		if len(b) < 4 {
			return nil, nil, fmt.Errorf("%w: int32 value truncated", ErrMalformedFrame)
		}
		return int32(binary.BigEndian.Uint32(b[:4])), b[4:], nil
	case 'i':
		if len(b) < 4 {
			return nil, nil, fmt.Errorf("%w: uint32 value truncated", ErrMalformedFrame)
		}
		return binary.BigEndian.Uint32(b[:4]), b[4:], nil
	case 'L', 'T':
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("%w: int64 value truncated", ErrMalformedFrame)
		}
		return int64(binary.BigEndian.Uint64(b[:8])), b[8:], nil
	case 'l':
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("%w: uint64 value truncated", ErrMalformedFrame)
		}
		return binary.BigEndian.Uint64(b[:8]), b[8:], nil
	case 'f':
		if len(b) < 4 {
			return nil, nil, fmt.Errorf("%w: float32 value truncated", ErrMalformedFrame)
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b[:4])), b[4:], nil
	case 'd':
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("%w: float64 value truncated", ErrMalformedFrame)
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[:8])), b[8:], nil
	case 'S':
		return decodeLongString(b)
	case 's':
		return decodeShortString(b)
	case 'x':
		if len(b) < 4 {
			return nil, nil, fmt.Errorf("%w: binary value length missing", ErrMalformedFrame)
		}
		length := binary.BigEndian.Uint32(b[0:4])
		b = b[4:]
		if uint32(len(b)) < length {
			return nil, nil, fmt.Errorf("%w: binary value truncated", ErrMalformedFrame)
		}
		out := make([]byte, length)
		copy(out, b[:length])
		return out, b[length:], nil
	case 'F':
		return DecodeTable(b)
	case 'A':
		return decodeFieldArray(b)
	case 'V':
		return nil, b, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown field type tag %q", ErrMalformedFrame, tag)
	}
}

func encodeFieldValue(v interface{}) []byte {
	switch val := v.(type) {
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return append([]byte{'t'}, b)
	case int8:
		return []byte{'b', byte(val)}
	case uint8:
		return []byte{'B', val}
	case int16:
		out := make([]byte, 3)
		out[0] = 'U'
		binary.BigEndian.PutUint16(out[1:], uint16(val))
		return out
	case uint16:
		out := make([]byte, 3)
		out[0] = 'u'
		binary.BigEndian.PutUint16(out[1:], val)
		return out
	case int32:
		out := make([]byte, 5)
		out[0] = 'I'
		binary.BigEndian.PutUint32(out[1:], uint32(val))
		return out
	case uint32:
		out := make([]byte, 5)
		out[0] = 'i'
		binary.BigEndian.PutUint32(out[1:], val)
		return out
	case int64:
		out := make([]byte, 9)
		out[0] = 'L'
		binary.BigEndian.PutUint64(out[1:], uint64(val))
		return out
	case uint64:
		out := make([]byte, 9)
		out[0] = 'l'
		binary.BigEndian.PutUint64(out[1:], val)
		return out
	case int:
		return encodeFieldValue(int64(val))
	case float32:
		out := make([]byte, 5)
		out[0] = 'f'
		binary.BigEndian.PutUint32(out[1:], math.Float32bits(val))
		return out
	case float64:
		out := make([]byte, 9)
		out[0] = 'd'
		binary.BigEndian.PutUint64(out[1:], math.Float64bits(val))
		return out
	case string:
		return append([]byte{'S'}, encodeLongString(val)...)
	case []byte:
		out := make([]byte, 5+len(val))
		out[0] = 'x'
		binary.BigEndian.PutUint32(out[1:5], uint32(len(val)))
		copy(out[5:], val)
		return out
	case Table:
		return append([]byte{'F'}, EncodeTable(val)...)
	case []interface{}:
		return append([]byte{'A'}, encodeFieldArray(val)...)
	case nil:
		return []byte{'V'}
	default:
		// Unrecognized Go type: drop to void rather than corrupt the stream.
		return []byte{'V'}
	}
}

func decodeFieldArray(b []byte) ([]interface{}, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: array length missing", ErrMalformedFrame)
	}
	length := binary.BigEndian.Uint32(b[0:4])
	b = b[4:]
	if uint32(len(b)) < length {
		return nil, nil, fmt.Errorf("%w: array truncated", ErrMalformedFrame)
	}
	body, rest := b[:length], b[length:]

	var out []interface{}
	for len(body) > 0 {
		value, tail, err := decodeFieldValue(body)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, value)
		body = tail
	}
	return out, rest, nil
}

func encodeFieldArray(vals []interface{}) []byte {
	var body []byte
	for _, v := range vals {
		body = append(body, encodeFieldValue(v)...)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}
