package broker

import (
	"time"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

// Message is one published message as it sits in a queue: the routing
// metadata it arrived with plus its content-header properties and body.
type Message struct {
	Exchange     string
	RoutingKey   string
	Mandatory    bool
	Immediate    bool
	Properties   wire.BasicProperties
	Body         []byte
	DeliveryTag  uint64 // assigned per-channel at delivery time, zero while queued
	Redelivered  bool
	EnqueuedAt   time.Time
}

// UnackedMessage tracks a message delivered to a consumer (or fetched via
// basic.get) awaiting ack/nack/reject, so it can be requeued or dropped.
type UnackedMessage struct {
	DeliveryTag uint64
	Queue       string
	ConsumerTag string // empty for basic.get deliveries
	Message     *Message
}
