package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig tunes a RetryPolicy's backoff curve.
type RetryConfig struct {
	MaxAttempts  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFactor scales the random jitter applied to each backoff:
	// the sleep is backoff +/- (backoff * JitterFactor), picked uniformly.
	JitterFactor float64
}

// DefaultRetryConfig makes up to three attempts (two retries) with a doubling backoff
// starting at 100ms, capped at five seconds, with 20% jitter.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2.0,
	JitterFactor:   0.2,
}

// RetryPolicy retries a function with exponential backoff and jitter.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy returns a RetryPolicy using cfg.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	return &RetryPolicy{config: cfg}
}

// Execute calls fn, retrying with backoff on error until MaxAttempts is
// reached, ctx is cancelled, or fn succeeds. The final error is
// ErrRetriesExhausted wrapping the last attempt's error.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	backoff := p.config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.config.MaxAttempts {
			break
		}

		sleep := jitteredSleep(backoff, p.config.JitterFactor, p.config.MaxBackoff)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff = time.Duration(float64(backoff) * p.config.Multiplier)
		if backoff > p.config.MaxBackoff {
			backoff = p.config.MaxBackoff
		}
	}

	return joinRetriesExhausted(lastErr)
}

// jitteredSleep computes backoff +/- U(-range, +range) where range =
// backoff * jitterFactor, then clamps the result to maxBackoff so a jittered
// sleep can never overshoot the configured ceiling.
func jitteredSleep(backoff time.Duration, jitterFactor float64, maxBackoff time.Duration) time.Duration {
	if jitterFactor <= 0 {
		return clampDuration(backoff, maxBackoff)
	}
	jitterRange := float64(backoff) * jitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange
	sleep := time.Duration(float64(backoff) + jitter)
	if sleep < 0 {
		sleep = 0
	}
	return clampDuration(sleep, maxBackoff)
}

func clampDuration(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

func joinRetriesExhausted(cause error) error {
	if cause == nil {
		return ErrRetriesExhausted
	}
	return &retriesExhaustedError{cause: cause}
}

type retriesExhaustedError struct {
	cause error
}

func (e *retriesExhaustedError) Error() string {
	return ErrRetriesExhausted.Error() + ": " + e.cause.Error()
}

func (e *retriesExhaustedError) Unwrap() error {
	return e.cause
}

func (e *retriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// CircuitBreakerAwareRetry wraps a RetryPolicy so that, once the paired
// breaker is open, a call is attempted at most once (no point burning
// retry attempts against a circuit that's already refusing traffic).
type CircuitBreakerAwareRetry struct {
	retry   *RetryPolicy
	breaker *CircuitBreaker
}

// NewCircuitBreakerAwareRetry pairs a retry policy with the breaker that
// gates the same endpoint.
func NewCircuitBreakerAwareRetry(retry *RetryPolicy, breaker *CircuitBreaker) *CircuitBreakerAwareRetry {
	return &CircuitBreakerAwareRetry{retry: retry, breaker: breaker}
}

// Execute runs fn under the breaker: a single direct call while the
// breaker is open or half-open, full retry-with-backoff while closed.
func (r *CircuitBreakerAwareRetry) Execute(ctx context.Context, fn func(context.Context) error) error {
	if r.breaker.State() != StateClosed {
		return r.breaker.Execute(ctx, fn)
	}

	return r.retry.Execute(ctx, func(ctx context.Context) error {
		return r.breaker.Execute(ctx, fn)
	})
}
