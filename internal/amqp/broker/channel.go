package broker

import (
	"sync"

	"github.com/go-logr/logr"
)

// ChannelState is the lifecycle state of one AMQP channel within a
// connection, mirroring the handshake the Channel class's methods drive it
// through.
type ChannelState int

const (
	ChannelStatePending ChannelState = iota // channel.open not yet received
	ChannelStateOpen
	ChannelStateClosing // channel.close sent, awaiting channel.close-ok
	ChannelStateClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelStatePending:
		return "pending"
	case ChannelStateOpen:
		return "open"
	case ChannelStateClosing:
		return "closing"
	case ChannelStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Consumer is a registered basic.consume subscription on a queue.
type Consumer struct {
	Tag       string
	Queue     string
	NoAck     bool
	Exclusive bool
	cancel    chan struct{}
}

// Channel holds all per-channel AMQP state: consumers, unacknowledged
// deliveries, transaction buffering, publisher-confirm bookkeeping, and
// QoS limits. One Channel exists per channel number opened on a Connection.
type Channel struct {
	ID     uint16
	log    logr.Logger

	mu            sync.Mutex
	state         ChannelState
	prefetchCount uint16
	prefetchSize  uint32
	globalQos     bool

	consumers map[string]*Consumer
	unacked   map[uint64]*UnackedMessage

	txMode     bool
	txPublish  []*Message
	txAcks     []uint64

	confirmMode  bool
	nextPublish  uint64 // next delivery-tag-like sequence number for publisher confirms

	deliverySeq idGenerator
	consumerSeq idGenerator

	pending *contentAssembly // non-nil while a publish's header/body frames are still arriving
}

// NewChannel returns a freshly opened channel with default QoS (no limit).
func NewChannel(id uint16, log logr.Logger) *Channel {
	return &Channel{
		ID:        id,
		log:       log.WithValues("channel", id),
		state:     ChannelStatePending,
		consumers: map[string]*Consumer{},
		unacked:   map[uint64]*UnackedMessage{},
	}
}

func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SetQos updates the channel's prefetch limits. A count of 0 means
// unlimited, matching the AMQP default.
func (c *Channel) SetQos(prefetchSize uint32, prefetchCount uint16, global bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetchSize = prefetchSize
	c.prefetchCount = prefetchCount
	c.globalQos = global
}

// unackedCount counts in-flight deliveries across the whole channel, to
// enforce prefetch before handing out another delivery. Prefetch-count is a
// channel-wide limit, not a per-consumer one: consumers sharing a channel
// share the same unacked budget.
func (c *Channel) unackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unacked)
}

// underPrefetchLimit reports whether this channel may hand out another
// delivery given its current prefetch-count limit.
func (c *Channel) underPrefetchLimit() bool {
	c.mu.Lock()
	limit := c.prefetchCount
	c.mu.Unlock()
	if limit == 0 {
		return true
	}
	return c.unackedCount() < int(limit)
}

// nextDeliveryTag returns the next per-channel delivery tag, 1-based and
// monotonically increasing for the lifetime of the channel.
func (c *Channel) nextDeliveryTag() uint64 {
	return c.deliverySeq.nextConnectionID()
}

func (c *Channel) trackUnacked(u *UnackedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unacked[u.DeliveryTag] = u
}

// ackUpTo removes delivery tags <= tag (or just tag, if multiple is false)
// from the unacked set, returning the removed entries.
func (c *Channel) ackUpTo(tag uint64, multiple bool) []*UnackedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []*UnackedMessage
	if multiple {
		for t, u := range c.unacked {
			if t <= tag {
				removed = append(removed, u)
				delete(c.unacked, t)
			}
		}
	} else if u, ok := c.unacked[tag]; ok {
		removed = append(removed, u)
		delete(c.unacked, tag)
	}
	return removed
}

// takeUnacked removes and returns every currently unacked message, used by
// basic.recover to decide what gets requeued.
func (c *Channel) takeUnacked() []*UnackedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*UnackedMessage, 0, len(c.unacked))
	for _, u := range c.unacked {
		out = append(out, u)
	}
	c.unacked = map[uint64]*UnackedMessage{}
	return out
}

func (c *Channel) addConsumer(con *Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[con.Tag] = con
}

func (c *Channel) removeConsumer(tag string) *Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	con := c.consumers[tag]
	delete(c.consumers, tag)
	return con
}

func (c *Channel) allConsumers() []*Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Consumer, 0, len(c.consumers))
	for _, con := range c.consumers {
		out = append(out, con)
	}
	return out
}

func (c *Channel) nextConsumerTag() string {
	return consumerTag(c.ID, c.consumerSeq.nextConnectionID())
}
