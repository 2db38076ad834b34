package broker

import (
	"fmt"
	"sync"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

// Exchange is a declared AMQP exchange: its kind plus the bindings routing
// through it. The built-in default exchange ("") is direct and implicit.
type Exchange struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Args       wire.Table

	mu       sync.RWMutex
	bindings []*Binding
}

// route returns the names of queues this exchange delivers a message with
// routingKey and headers to, per its kind's matching rule. A queue bound
// more than once by matching bindings appears more than once: each binding
// contributes its own delivery, preserving multiplicity.
func (e *Exchange) route(routingKey string, headers wire.Table) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var queues []string
	add := func(q string) {
		queues = append(queues, q)
	}

	switch e.Kind {
	case wire.ExchangeFanout:
		for _, b := range e.bindings {
			add(b.Queue)
		}
	case wire.ExchangeTopic:
		for _, b := range e.bindings {
			if b.matchesTopic(routingKey) {
				add(b.Queue)
			}
		}
	case wire.ExchangeHeaders:
		for _, b := range e.bindings {
			if b.matchesHeaders(headers) {
				add(b.Queue)
			}
		}
	default: // direct, including the default exchange
		for _, b := range e.bindings {
			if b.matchesDirect(routingKey) {
				add(b.Queue)
			}
		}
	}
	return queues
}

func (e *Exchange) bind(b *Binding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bindings = append(e.bindings, b)
}

// unbind removes bindings matching queue/routingKey exactly; unbinding a
// binding that doesn't exist is a lenient no-op, never an error.
func (e *Exchange) unbind(queue, routingKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.bindings[:0]
	for _, b := range e.bindings {
		if b.Queue == queue && b.RoutingKey == routingKey {
			continue
		}
		out = append(out, b)
	}
	e.bindings = out
}

// unbindQueue drops every binding referencing queue, used when the queue
// itself is deleted so the exchange doesn't keep dangling routes.
func (e *Exchange) unbindQueue(queue string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.bindings[:0]
	for _, b := range e.bindings {
		if b.Queue == queue {
			continue
		}
		out = append(out, b)
	}
	e.bindings = out
}

// ExchangeManager owns every declared exchange for a vhost/broker instance.
type ExchangeManager struct {
	mu        sync.RWMutex
	exchanges map[string]*Exchange
}

// NewExchangeManager returns a manager pre-seeded with the built-in default
// exchange and the standard amq.* exchanges RabbitMQ clients expect to exist.
func NewExchangeManager() *ExchangeManager {
	m := &ExchangeManager{exchanges: map[string]*Exchange{}}
	m.exchanges[""] = &Exchange{Name: "", Kind: wire.ExchangeDirect, Durable: true}
	for name, kind := range map[string]string{
		"amq.direct":  wire.ExchangeDirect,
		"amq.fanout":  wire.ExchangeFanout,
		"amq.topic":   wire.ExchangeTopic,
		"amq.headers": wire.ExchangeHeaders,
	} {
		m.exchanges[name] = &Exchange{Name: name, Kind: kind, Durable: true}
	}
	return m
}

// Declare creates the exchange if absent, or validates the existing one's
// kind/durability match (RabbitMQ closes the channel on a mismatch; we
// surface that as ErrAlreadyExists for the caller to translate to a
// channel.close).
func (m *ExchangeManager) Declare(name, kind string, durable, autoDelete, internal bool, args wire.Table) (*Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.exchanges[name]; ok {
		if existing.Kind != kind || existing.Durable != durable || existing.AutoDelete != autoDelete {
			return nil, fmt.Errorf("exchange %q declared with different parameters: %w", name, ErrAlreadyExists)
		}
		return existing, nil
	}

	ex := &Exchange{Name: name, Kind: kind, Durable: durable, AutoDelete: autoDelete, Internal: internal, Args: args}
	m.exchanges[name] = ex
	return ex, nil
}

// Get returns the named exchange, or ErrNotFound.
func (m *ExchangeManager) Get(name string) (*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.exchanges[name]
	if !ok {
		return nil, fmt.Errorf("exchange %q: %w", name, ErrNotFound)
	}
	return ex, nil
}

// Delete removes an exchange. ifUnused is accepted but not enforced: this
// broker does not track per-exchange "has a consumer ever bound" state
// beyond its binding list.
func (m *ExchangeManager) Delete(name string, ifUnused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exchanges[name]; !ok {
		return fmt.Errorf("exchange %q: %w", name, ErrNotFound)
	}
	delete(m.exchanges, name)
	return nil
}

// UnbindQueueFromAll removes every binding referencing queue across all
// exchanges, called when a queue is deleted.
func (m *ExchangeManager) UnbindQueueFromAll(queue string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ex := range m.exchanges {
		ex.unbindQueue(queue)
	}
}
