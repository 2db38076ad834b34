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

func TestRetryPolicy_SucceedsOnLaterAttempt(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Multiplier: 2, JitterFactor: 0}
	p := NewRetryPolicy(cfg)

	attempts := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2, JitterFactor: 0}
	p := NewRetryPolicy(cfg)

	boom := errors.New("permanent")
	attempts := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		attempts++
		return boom
	})

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, attempts)
}

func TestRetryPolicy_RespectsContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2, JitterFactor: 0}
	p := NewRetryPolicy(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := p.Execute(ctx, func(context.Context) error { return errors.New("fail") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJitteredSleep_NeverExceedsMaxBackoff(t *testing.T) {
	for i := 0; i < 100; i++ {
		sleep := jitteredSleep(9*time.Second, 0.5, 10*time.Second)
		assert.LessOrEqual(t, sleep, 10*time.Second)
		assert.GreaterOrEqual(t, sleep, time.Duration(0))
	}
}

func TestJitteredSleep_ZeroJitterIsExact(t *testing.T) {
	assert.Equal(t, 2*time.Second, jitteredSleep(2*time.Second, 0, 10*time.Second))
}

func TestCircuitBreakerAwareRetry_SkipsRetryWhenOpen(t *testing.T) {
	breakerCfg := BreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	b := NewCircuitBreaker("svc", breakerCfg, logr.Discard())
	b.Allow()
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	retryCfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1, JitterFactor: 0}
	aware := NewCircuitBreakerAwareRetry(NewRetryPolicy(retryCfg), b)

	calls := 0
	err := aware.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}
