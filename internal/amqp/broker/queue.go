package broker

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/wire"
)

// Queue is a declared AMQP queue: its properties, its pending-message list,
// and the notifier consumers wait on for new arrivals.
type Queue struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Args       wire.Table

	mu       sync.Mutex
	messages *list.List // of *Message, FIFO: PushBack to enqueue, Front to dequeue

	consumerCount int
	notify        notifier
}

func newQueue(name string, durable, exclusive, autoDelete bool, args wire.Table) *Queue {
	return &Queue{
		Name:       name,
		Durable:    durable,
		Exclusive:  exclusive,
		AutoDelete: autoDelete,
		Args:       args,
		messages:   list.New(),
	}
}

// Enqueue appends a message to the tail of the queue and wakes any waiting
// consumers.
func (q *Queue) Enqueue(m *Message) {
	q.mu.Lock()
	q.messages.PushBack(m)
	q.mu.Unlock()
	q.notify.publish()
}

// Dequeue removes and returns the message at the head of the queue, or nil
// if the queue is empty.
func (q *Queue) Dequeue() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.messages.Front()
	if front == nil {
		return nil
	}
	q.messages.Remove(front)
	return front.Value.(*Message)
}

// Requeue pushes a message back to the head of the queue, used for
// nack/reject-with-requeue so redelivery happens before newer messages.
func (q *Queue) Requeue(m *Message) {
	m.Redelivered = true
	q.mu.Lock()
	q.messages.PushFront(m)
	q.mu.Unlock()
	q.notify.publish()
}

// Len returns the number of ready (undelivered) messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.messages.Len()
}

// Purge removes every ready message and returns the count removed.
func (q *Queue) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.messages.Len()
	q.messages.Init()
	return n
}

// WaitForMessage returns a channel woken whenever a message is enqueued or
// requeued, for a consumer's poll loop to select on alongside ctx.Done().
func (q *Queue) WaitForMessage() <-chan struct{} {
	return q.notify.subscribe()
}

// QueueManager owns every declared queue for a broker instance.
type QueueManager struct {
	mu       sync.RWMutex
	queues   map[string]*Queue
	nameSeq  idGenerator
}

// NewQueueManager returns an empty queue manager.
func NewQueueManager() *QueueManager {
	return &QueueManager{queues: map[string]*Queue{}}
}

// Declare creates the queue if absent (generating a name if name is empty),
// or validates the existing queue's durability/exclusivity/auto-delete
// match. Returns the queue and its current ready-message count.
func (m *QueueManager) Declare(name string, durable, exclusive, autoDelete bool, args wire.Table) (*Queue, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		name = generatedQueueName(m.nameSeq.nextConnectionID())
	}

	if existing, ok := m.queues[name]; ok {
		if existing.Durable != durable || existing.Exclusive != exclusive || existing.AutoDelete != autoDelete {
			return nil, 0, fmt.Errorf("queue %q declared with different parameters: %w", name, ErrAlreadyExists)
		}
		return existing, existing.Len(), nil
	}

	q := newQueue(name, durable, exclusive, autoDelete, args)
	m.queues[name] = q
	return q, 0, nil
}

// Get returns the named queue, or ErrNotFound.
func (m *QueueManager) Get(name string) (*Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("queue %q: %w", name, ErrNotFound)
	}
	return q, nil
}

// Delete removes a queue and returns the number of ready messages it held.
// ifUnused/ifEmpty are accepted but, like exchange deletion, not enforced
// as hard preconditions.
func (m *QueueManager) Delete(name string, ifUnused, ifEmpty bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		return 0, fmt.Errorf("queue %q: %w", name, ErrNotFound)
	}
	delete(m.queues, name)
	return q.Len(), nil
}
