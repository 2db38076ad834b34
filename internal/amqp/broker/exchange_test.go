package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

func TestExchangeManagerDeclareIsIdempotent(t *testing.T) {
	m := NewExchangeManager()

	ex1, err := m.Declare("orders", wire.ExchangeTopic, true, false, false, nil)
	require.NoError(t, err)

	ex2, err := m.Declare("orders", wire.ExchangeTopic, true, false, false, nil)
	require.NoError(t, err)
	assert.Same(t, ex1, ex2)
}

func TestExchangeManagerDeclareConflictingParams(t *testing.T) {
	m := NewExchangeManager()
	_, err := m.Declare("orders", wire.ExchangeTopic, true, false, false, nil)
	require.NoError(t, err)

	_, err = m.Declare("orders", wire.ExchangeFanout, true, false, false, nil)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestExchangeManagerHasDefaultExchanges(t *testing.T) {
	m := NewExchangeManager()
	for _, name := range []string{"", "amq.direct", "amq.fanout", "amq.topic", "amq.headers"} {
		_, err := m.Get(name)
		assert.NoError(t, err, name)
	}
}

func TestFanoutExchangeRoutesToAllBindings(t *testing.T) {
	m := NewExchangeManager()
	ex, err := m.Declare("logs", wire.ExchangeFanout, false, false, false, nil)
	require.NoError(t, err)

	ex.bind(&Binding{Queue: "q1"})
	ex.bind(&Binding{Queue: "q2"})

	got := ex.route("anything", nil)
	assert.ElementsMatch(t, []string{"q1", "q2"}, got)
}

func TestDirectExchangeRoutesOnExactKey(t *testing.T) {
	m := NewExchangeManager()
	ex, err := m.Declare("orders", wire.ExchangeDirect, false, false, false, nil)
	require.NoError(t, err)

	ex.bind(&Binding{Queue: "created", RoutingKey: "order.created"})
	ex.bind(&Binding{Queue: "cancelled", RoutingKey: "order.cancelled"})

	assert.Equal(t, []string{"created"}, ex.route("order.created", nil))
	assert.Empty(t, ex.route("order.shipped", nil))
}

func TestTopicExchangePreservesMultiplicityAcrossMatchingBindings(t *testing.T) {
	m := NewExchangeManager()
	ex, err := m.Declare("events", wire.ExchangeTopic, false, false, false, nil)
	require.NoError(t, err)

	// Same queue bound twice with different topic patterns that both match
	// "a.b": each binding contributes its own delivery.
	ex.bind(&Binding{Queue: "q", RoutingKey: "a.*"})
	ex.bind(&Binding{Queue: "q", RoutingKey: "a.#"})

	got := ex.route("a.b", nil)
	assert.Equal(t, []string{"q", "q"}, got)
}

func TestExchangeUnbindAndDelete(t *testing.T) {
	m := NewExchangeManager()
	ex, err := m.Declare("orders", wire.ExchangeDirect, false, false, false, nil)
	require.NoError(t, err)
	ex.bind(&Binding{Queue: "q1", RoutingKey: "k"})

	ex.unbind("q1", "k")
	assert.Empty(t, ex.route("k", nil))

	// Unbinding something absent is a no-op, not an error.
	ex.unbind("q1", "k")

	require.NoError(t, m.Delete("orders", false))
	_, err = m.Get("orders")
	assert.ErrorIs(t, err, ErrNotFound)
}
