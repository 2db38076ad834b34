package broker

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestChannelDefaultsHaveNoPrefetchLimit(t *testing.T) {
	ch := NewChannel(1, logr.Discard())
	assert.True(t, ch.underPrefetchLimit())
}

func TestChannelPrefetchLimit(t *testing.T) {
	ch := NewChannel(1, logr.Discard())
	ch.SetQos(0, 2, false)

	ch.trackUnacked(&UnackedMessage{DeliveryTag: 1, ConsumerTag: "ctag"})
	assert.True(t, ch.underPrefetchLimit())

	ch.trackUnacked(&UnackedMessage{DeliveryTag: 2, ConsumerTag: "ctag"})
	assert.False(t, ch.underPrefetchLimit())
}

func TestChannelPrefetchLimitIsSharedAcrossConsumers(t *testing.T) {
	ch := NewChannel(1, logr.Discard())
	ch.SetQos(0, 1, false)

	ch.trackUnacked(&UnackedMessage{DeliveryTag: 1, ConsumerTag: "ctag-a"})
	assert.False(t, ch.underPrefetchLimit())
}

func TestChannelAckUpToSingle(t *testing.T) {
	ch := NewChannel(1, logr.Discard())
	ch.trackUnacked(&UnackedMessage{DeliveryTag: 1})
	ch.trackUnacked(&UnackedMessage{DeliveryTag: 2})

	removed := ch.ackUpTo(1, false)
	assert.Len(t, removed, 1)
	assert.EqualValues(t, 1, removed[0].DeliveryTag)

	remaining := ch.ackUpTo(2, false)
	assert.Len(t, remaining, 1)
}

func TestChannelAckUpToMultiple(t *testing.T) {
	ch := NewChannel(1, logr.Discard())
	for i := uint64(1); i <= 3; i++ {
		ch.trackUnacked(&UnackedMessage{DeliveryTag: i})
	}

	removed := ch.ackUpTo(2, true)
	assert.Len(t, removed, 2)

	remaining := ch.takeUnacked()
	assert.Len(t, remaining, 1)
	assert.EqualValues(t, 3, remaining[0].DeliveryTag)
}

func TestChannelConsumerTagGeneration(t *testing.T) {
	ch := NewChannel(3, logr.Discard())
	tag1 := ch.nextConsumerTag()
	tag2 := ch.nextConsumerTag()
	assert.NotEqual(t, tag1, tag2)
	assert.Contains(t, tag1, "amq.ctag-3.")
}
