package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc-a", cfg, logr.Discard())

	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc-b", cfg, logr.Discard())

	b.Allow()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Millisecond, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc-c", cfg, logr.Discard())

	b.Allow()
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cfg := DefaultBreakerConfig
	cfg.FailureThreshold = 1
	b := NewCircuitBreaker("svc-d", cfg, logr.Discard())

	boom := errors.New("boom")
	err := b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, b.State())

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Subscribe(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc-e", cfg, logr.Discard())
	ch := b.Subscribe()

	b.Allow()
	b.RecordFailure()

	select {
	case change := <-ch:
		assert.Equal(t, StateClosed, change.From)
		assert.Equal(t, StateOpen, change.To)
		assert.Equal(t, "svc-e", change.Endpoint)
	case <-time.After(time.Second):
		t.Fatal("expected a state change notification")
	}
}

func TestCircuitBreaker_DisabledIsNoOp(t *testing.T) {
	cfg := BreakerConfig{Enabled: false, FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc-g", cfg, logr.Discard())

	for i := 0; i < 5; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestCircuitBreaker_TripsOnFailureRate(t *testing.T) {
	cfg := BreakerConfig{
		Enabled:              true,
		FailureThreshold:     100, // unreachable, isolates the rate rule
		FailureRateThreshold: 0.5,
		MinRequestsForRate:   4,
		SuccessThreshold:     1,
		OpenTimeout:          time.Minute,
		HalfOpenMaxCalls:     1,
	}
	b := NewCircuitBreaker("svc-h", cfg, logr.Discard())

	b.Allow()
	b.RecordSuccess()
	b.Allow()
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())

	b.Allow()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State()) // 1/3 failures, below rate and below min requests

	b.Allow()
	b.RecordFailure()
	// 2/4 = 50% failure rate with the minimum request count reached.
	assert.Equal(t, StateOpen, b.State())
}

func TestCircuitBreaker_TracksTotalAndRejectedRequests(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc-i", cfg, logr.Discard())

	b.Allow()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Allow()
	b.Allow()

	stats := b.Stats()
	assert.EqualValues(t, 3, stats.TotalRequests)
	assert.EqualValues(t, 2, stats.RejectedRequests)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc-f", cfg, logr.Discard())
	b.Allow()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(0), b.Stats().ConsecutiveFailures)
}
