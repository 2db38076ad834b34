package broker

import (
	"fmt"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

// contentAssembly accumulates the header and body frames that follow a
// basic.publish method frame until bodySize bytes have arrived, at which
// point the channel can hand a complete Message to the exchange router.
// AMQP splits one logical message across three frame types; this is the
// state that bridges the method frame to the header/body frames.
type contentAssembly struct {
	exchange    string
	routingKey  string
	mandatory   bool
	immediate   bool
	bodySize    uint64
	properties  wire.BasicProperties
	body        []byte
	haveHeader  bool
}

func (c *contentAssembly) applyHeader(h *wire.ContentHeaderPayload) error {
	if h.ClassID != wire.ClassBasic {
		return fmt.Errorf("%w: content header class %d, expected basic", ErrProtocolViolation, h.ClassID)
	}
	c.bodySize = h.BodySize
	c.properties = h.Properties
	c.haveHeader = true
	c.body = make([]byte, 0, h.BodySize)
	return nil
}

func (c *contentAssembly) appendBody(chunk []byte) {
	c.body = append(c.body, chunk...)
}

func (c *contentAssembly) complete() bool {
	return c.haveHeader && uint64(len(c.body)) >= c.bodySize
}

func (c *contentAssembly) toMessage() *Message {
	return &Message{
		Exchange:   c.exchange,
		RoutingKey: c.routingKey,
		Mandatory:  c.mandatory,
		Immediate:  c.immediate,
		Properties: c.properties,
		Body:       c.body,
	}
}
