package broker

import (
	"strings"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

// Binding links a queue to an exchange under a routing key (direct/topic)
// or a set of header-match arguments (headers exchange). Fanout exchanges
// ignore both and deliver to every bound queue.
type Binding struct {
	Queue      string
	RoutingKey string
	Args       wire.Table
}

// matchesDirect is an exact routing-key comparison.
func (b *Binding) matchesDirect(routingKey string) bool {
	return b.RoutingKey == routingKey
}

// matchesTopic applies AMQP topic wildcard semantics: "*" matches exactly
// one word, "#" matches zero or more words, words are split on ".".
func (b *Binding) matchesTopic(routingKey string) bool {
	return topicMatch(strings.Split(b.RoutingKey, "."), strings.Split(routingKey, "."))
}

func topicMatch(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	head := pattern[0]
	switch head {
	case "#":
		if len(pattern) == 1 {
			return true
		}
		// "#" may absorb zero or more words; try every split point.
		for i := 0; i <= len(key); i++ {
			if topicMatch(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		if len(key) == 0 || key[0] == "" {
			return false
		}
		return topicMatch(pattern[1:], key[1:])
	default:
		if len(key) == 0 || key[0] != head {
			return false
		}
		return topicMatch(pattern[1:], key[1:])
	}
}

// matchesHeaders implements the headers-exchange x-match semantics: "all"
// (default) requires every non-x-prefixed arg to match the message headers;
// "any" requires at least one to match.
func (b *Binding) matchesHeaders(headers wire.Table) bool {
	matchAll := true
	if v, ok := b.Args["x-match"]; ok {
		if s, ok := v.(string); ok && s == "any" {
			matchAll = false
		}
	}

	matched := 0
	total := 0
	for k, want := range b.Args {
		if strings.HasPrefix(k, "x-") {
			continue
		}
		total++
		if got, ok := headers[k]; ok && fieldValuesEqual(got, want) {
			matched++
			if !matchAll {
				return true
			}
		}
	}

	if total == 0 {
		return matchAll
	}
	if matchAll {
		return matched == total
	}
	return false
}

func fieldValuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case int32:
		if bv, ok := toInt64(b); ok {
			return int64(av) == bv
		}
	case int64:
		if bv, ok := toInt64(b); ok {
			return av == bv
		}
	case uint32:
		if bv, ok := toInt64(b); ok {
			return int64(av) == bv
		}
	}
	return a == b
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
