package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueManagerDeclareGeneratesName(t *testing.T) {
	m := NewQueueManager()
	q, count, err := m.Declare("", false, true, true, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, q.Name)
	assert.Zero(t, count)
}

func TestQueueManagerDeclareConflict(t *testing.T) {
	m := NewQueueManager()
	_, _, err := m.Declare("work", true, false, false, nil)
	require.NoError(t, err)

	_, _, err = m.Declare("work", false, false, false, nil)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestQueueFIFOOrderAndRequeue(t *testing.T) {
	q := newQueue("work", false, false, false, nil)
	q.Enqueue(&Message{Body: []byte("first")})
	q.Enqueue(&Message{Body: []byte("second")})

	first := q.Dequeue()
	require.NotNil(t, first)
	assert.Equal(t, "first", string(first.Body))

	// Requeue pushes back to the head, ahead of "second".
	q.Requeue(first)
	assert.True(t, first.Redelivered)

	next := q.Dequeue()
	assert.Equal(t, "first", string(next.Body))
	assert.True(t, next.Redelivered)

	last := q.Dequeue()
	assert.Equal(t, "second", string(last.Body))

	assert.Nil(t, q.Dequeue())
}

func TestQueuePurge(t *testing.T) {
	q := newQueue("work", false, false, false, nil)
	q.Enqueue(&Message{Body: []byte("a")})
	q.Enqueue(&Message{Body: []byte("b")})

	assert.Equal(t, 2, q.Purge())
	assert.Equal(t, 0, q.Len())
}

func TestQueueWaitForMessageWakesOnEnqueue(t *testing.T) {
	q := newQueue("work", false, false, false, nil)
	notified := q.WaitForMessage()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(&Message{Body: []byte("woke")})
	}()

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enqueue notification")
	}

	msg := q.Dequeue()
	require.NotNil(t, msg)
	assert.Equal(t, "woke", string(msg.Body))
}

func TestQueueManagerDelete(t *testing.T) {
	m := NewQueueManager()
	_, _, err := m.Declare("work", false, false, false, nil)
	require.NoError(t, err)

	q, _ := m.Get("work")
	q.Enqueue(&Message{Body: []byte("x")})

	count, err := m.Delete("work", false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = m.Get("work")
	assert.ErrorIs(t, err, ErrNotFound)
}
