package broker

import (
	"fmt"
	"sync/atomic"
)

// idGenerator hands out monotonically increasing sequence numbers starting
// at 1: connection identifiers, delivery tags, and the sequence parts of
// generated consumer tags and queue names.
// Grounded on connection.rs's static NEXT_ID: AtomicU64 counter; Go's
// sync/atomic is the idiomatic equivalent and no third-party ID library in
// the example pack targets this exact narrow counter-plus-prefix shape.
type idGenerator struct {
	next uint64
}

func (g *idGenerator) nextConnectionID() uint64 {
	return atomic.AddUint64(&g.next, 1)
}

var globalIDs idGenerator

// NextConnectionID returns a process-wide unique connection identifier.
func NextConnectionID() uint64 {
	return globalIDs.nextConnectionID()
}

// generatedQueueName produces the amq.gen-<n> name AMQP clients expect when
// they declare a queue with an empty name.
func generatedQueueName(seq uint64) string {
	return fmt.Sprintf("amq.gen-%d", seq)
}

// consumerTag produces a deterministic server-generated consumer tag when
// the client supplies an empty one.
func consumerTag(channel uint16, seq uint64) string {
	return fmt.Sprintf("amq.ctag-%d.%d", channel, seq)
}
