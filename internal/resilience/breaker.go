package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// State is a circuit breaker's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a CircuitBreaker's transition thresholds.
type BreakerConfig struct {
	// Enabled gates the breaker entirely: false makes Allow always permit
	// the call and RecordSuccess/RecordFailure no-ops, so the breaker can
	// be wired in everywhere and toggled off per endpoint without
	// removing the call sites.
	Enabled bool
	// FailureThreshold is the number of consecutive failures, while
	// Closed, that trips the breaker to Open.
	FailureThreshold uint32
	// FailureRateThreshold, once at least MinRequestsForRate requests have
	// been observed, trips the breaker to Open when the failure rate
	// (failures / (failures+successes)) reaches or exceeds it. This is
	// ORed with FailureThreshold: either condition alone is enough to trip.
	FailureRateThreshold float64
	// MinRequestsForRate is the minimum number of completed requests
	// before FailureRateThreshold is evaluated at all, so a handful of
	// early failures can't trip the breaker on rate alone.
	MinRequestsForRate uint32
	// SuccessThreshold is the number of consecutive successes, while
	// HalfOpen, required to return to Closed.
	SuccessThreshold uint32
	// OpenTimeout is how long the breaker stays Open before allowing a
	// single trial call through as HalfOpen.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls bounds how many trial calls may be in flight at
	// once while HalfOpen; additional calls are refused like Open.
	HalfOpenMaxCalls uint32
}

// DefaultBreakerConfig matches common production defaults: five
// consecutive failures trips it, two consecutive successes resets it,
// and it waits thirty seconds before probing again. The rate-based rule
// trips at a 50% failure rate once at least ten requests have completed.
var DefaultBreakerConfig = BreakerConfig{
	Enabled:              true,
	FailureThreshold:     5,
	FailureRateThreshold: 0.5,
	MinRequestsForRate:   10,
	SuccessThreshold:     2,
	OpenTimeout:          30 * time.Second,
	HalfOpenMaxCalls:     1,
}

// StateChange is published on a CircuitBreaker's subscription channel
// whenever its state transitions.
type StateChange struct {
	Endpoint string
	From     State
	To       State
	At       time.Time
}

// CircuitStats is a point-in-time, lock-free snapshot of a breaker's
// counters, safe to read without holding the breaker's lock.
type CircuitStats struct {
	State                State
	ConsecutiveFailures   uint32
	ConsecutiveSuccesses  uint32
	TotalFailures         uint64
	TotalSuccesses        uint64
	TotalRequests         uint64
	RejectedRequests      uint64
	OpenedAt              time.Time
}

// CircuitBreaker guards calls to one logical endpoint, tripping open after
// a run of failures and probing for recovery via a single half-open call.
type CircuitBreaker struct {
	Endpoint string
	config   BreakerConfig
	log      logr.Logger

	mu        sync.RWMutex
	state     State
	openedAt  time.Time
	halfOpenInFlight uint32

	consecutiveFailures  atomic.Uint32
	consecutiveSuccesses atomic.Uint32
	totalFailures        atomic.Uint64
	totalSuccesses       atomic.Uint64
	totalRequests        atomic.Uint64
	rejectedRequests     atomic.Uint64

	// effectiveFailureThreshold starts at config.FailureThreshold and may
	// be retuned at runtime by a DynamicThresholdAdjuster via
	// SetFailureThreshold, without touching the static config.
	effectiveFailureThreshold atomic.Uint32

	notify notifier[StateChange]
}

// NewCircuitBreaker returns a breaker in the Closed state for endpoint.
func NewCircuitBreaker(endpoint string, cfg BreakerConfig, log logr.Logger) *CircuitBreaker {
	b := &CircuitBreaker{
		Endpoint: endpoint,
		config:   cfg,
		log:      log.WithValues("endpoint", endpoint),
		state:    StateClosed,
	}
	b.effectiveFailureThreshold.Store(cfg.FailureThreshold)
	return b
}

// SetFailureThreshold retunes the consecutive-failure trip threshold at
// runtime, independent of the rate-based rule. Used by a
// DynamicThresholdAdjuster to tighten or relax the breaker in response to
// observed error rates.
func (b *CircuitBreaker) SetFailureThreshold(threshold uint32) {
	b.effectiveFailureThreshold.Store(threshold)
}

// Allow reports whether a call may proceed right now, transitioning Open
// to HalfOpen if the open timeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	if !b.config.Enabled {
		return true
	}

	b.mu.RLock()
	state := b.state
	openedAt := b.openedAt
	b.mu.RUnlock()

	var allowed bool
	switch state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		allowed = atomic.AddUint32(&b.halfOpenInFlight, 1) <= b.config.HalfOpenMaxCalls || b.releaseHalfOpenSlot()
	case StateOpen:
		if time.Since(openedAt) < b.config.OpenTimeout {
			allowed = false
		} else {
			b.transitionLocked(StateOpen, StateHalfOpen)
			return b.Allow()
		}
	default:
		allowed = false
	}

	b.totalRequests.Add(1)
	if !allowed {
		b.rejectedRequests.Add(1)
	}
	return allowed
}

// releaseHalfOpenSlot undoes a speculative increment made by Allow when the
// half-open slot turned out to be oversubscribed; always returns false so
// Allow's caller is refused.
func (b *CircuitBreaker) releaseHalfOpenSlot() bool {
	atomic.AddUint32(&b.halfOpenInFlight, ^uint32(0))
	return false
}

// RecordSuccess reports a successful call, potentially closing the breaker
// if it was HalfOpen and has now seen enough consecutive successes.
func (b *CircuitBreaker) RecordSuccess() {
	if !b.config.Enabled {
		return
	}

	b.totalSuccesses.Add(1)
	b.consecutiveFailures.Store(0)
	successes := b.consecutiveSuccesses.Add(1)

	b.mu.RLock()
	state := b.state
	b.mu.RUnlock()

	if state == StateHalfOpen && successes >= b.config.SuccessThreshold {
		b.transitionLocked(StateHalfOpen, StateClosed)
	}
}

// RecordFailure reports a failed call, tripping the breaker Open if it was
// Closed and has now tripped either the consecutive-failure rule or the
// failure-rate rule, or immediately re-opening it if the HalfOpen trial
// call failed.
func (b *CircuitBreaker) RecordFailure() {
	if !b.config.Enabled {
		return
	}

	b.totalFailures.Add(1)
	b.consecutiveSuccesses.Store(0)
	failures := b.consecutiveFailures.Add(1)

	b.mu.RLock()
	state := b.state
	b.mu.RUnlock()

	switch state {
	case StateClosed:
		if failures >= b.effectiveFailureThreshold.Load() || b.rateTripped() {
			b.transitionLocked(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateHalfOpen, StateOpen)
	}
}

// rateTripped reports whether the failure-rate rule alone justifies
// tripping the breaker: enough requests observed and their failure rate at
// or above FailureRateThreshold. A zero threshold disables the rule.
func (b *CircuitBreaker) rateTripped() bool {
	if b.config.FailureRateThreshold <= 0 {
		return false
	}
	total := b.totalFailures.Load() + b.totalSuccesses.Load()
	if total < uint64(b.config.MinRequestsForRate) {
		return false
	}
	rate := float64(b.totalFailures.Load()) / float64(total)
	return rate >= b.config.FailureRateThreshold
}

func (b *CircuitBreaker) transitionLocked(from, to State) {
	b.mu.Lock()
	if b.state != from {
		b.mu.Unlock()
		return
	}
	b.state = to
	if to == StateOpen {
		b.openedAt = time.Now()
		atomic.StoreUint32(&b.halfOpenInFlight, 0)
	}
	if to == StateClosed {
		b.consecutiveFailures.Store(0)
		b.consecutiveSuccesses.Store(0)
	}
	b.mu.Unlock()

	b.log.V(1).Info("circuit breaker transitioned", "from", from.String(), "to", to.String())
	b.notify.publish(StateChange{Endpoint: b.Endpoint, From: from, To: to, At: time.Now()})
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *CircuitBreaker) Stats() CircuitStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return CircuitStats{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures.Load(),
		ConsecutiveSuccesses: b.consecutiveSuccesses.Load(),
		TotalFailures:        b.totalFailures.Load(),
		TotalSuccesses:       b.totalSuccesses.Load(),
		TotalRequests:        b.totalRequests.Load(),
		RejectedRequests:     b.rejectedRequests.Load(),
		OpenedAt:             b.openedAt,
	}
}

// Subscribe returns a channel that receives future state transitions. A
// transition is dropped for a subscriber whose channel buffer is full.
func (b *CircuitBreaker) Subscribe() <-chan StateChange {
	return b.notify.subscribe()
}

// Reset forces the breaker back to Closed, clearing all counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
	b.consecutiveFailures.Store(0)
	b.consecutiveSuccesses.Store(0)
	b.totalFailures.Store(0)
	b.totalSuccesses.Store(0)
	b.totalRequests.Store(0)
	b.rejectedRequests.Store(0)
}

// Execute runs fn if Allow permits it, recording the outcome automatically.
// It returns ErrCircuitOpen without calling fn if the breaker refuses.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
