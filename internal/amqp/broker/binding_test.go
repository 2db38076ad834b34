package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"exact match", "a.b.c", "a.b.c", true},
		{"star matches one word", "a.*.c", "a.b.c", true},
		{"star requires a word", "a.*.c", "a..c", false},
		{"hash matches zero words", "a.#.c", "a.c", true},
		{"hash matches many words", "a.#.c", "a.b.x.y.c", true},
		{"hash alone matches everything", "#", "a.b.c", true},
		{"mismatch", "a.b.c", "a.b.d", false},
		{"shorter key fails star", "a.*", "a", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &Binding{RoutingKey: tc.pattern}
			assert.Equal(t, tc.want, b.matchesTopic(tc.key))
		})
	}
}

func TestHeadersMatchAll(t *testing.T) {
	b := &Binding{Args: wire.Table{
		"x-match": "all",
		"region":  "us",
		"tier":    int32(1),
	}}

	assert.True(t, b.matchesHeaders(wire.Table{"region": "us", "tier": int32(1), "extra": "ignored"}))
	assert.False(t, b.matchesHeaders(wire.Table{"region": "us"}))
	assert.False(t, b.matchesHeaders(wire.Table{"region": "eu", "tier": int32(1)}))
}

func TestHeadersMatchAny(t *testing.T) {
	b := &Binding{Args: wire.Table{
		"x-match": "any",
		"region":  "us",
		"tier":    int32(1),
	}}

	assert.True(t, b.matchesHeaders(wire.Table{"region": "us"}))
	assert.True(t, b.matchesHeaders(wire.Table{"tier": int32(1)}))
	assert.False(t, b.matchesHeaders(wire.Table{"region": "eu", "tier": int32(2)}))
}
