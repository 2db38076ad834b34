package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"empty", Table{}},
		{"scalars", Table{
			"str":   "value",
			"flag":  true,
			"i32":   int32(-7),
			"u32":   uint32(7),
			"i64":   int64(-123456789),
			"f32":   float32(1.5),
			"f64":   float64(2.25),
		}},
		{"nested table", Table{
			"x-dead-letter-exchange": "dlx",
			"nested": Table{"inner": int32(1)},
		}},
		{"array", Table{
			"arr": []interface{}{int32(1), "two", true},
		}},
		{"binary", Table{
			"blob": []byte{0x01, 0x02, 0x03},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeTable(tc.table)
			decoded, rest, err := DecodeTable(encoded)
			require.NoError(t, err)
			assert.Empty(t, rest)
			assert.Equal(t, len(tc.table), len(decoded))
			for k, v := range tc.table {
				assert.Equal(t, v, decoded[k])
			}
		})
	}
}

func TestDecodeTableTruncated(t *testing.T) {
	_, _, err := DecodeTable([]byte{0, 0, 0, 10})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFieldValueUnknownTag(t *testing.T) {
	_, _, err := decodeFieldValue([]byte{'?'})
	assert.ErrorIs(t, err, ErrMalformedFrame)
}
