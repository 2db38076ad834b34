package resilience

import (
	"sync"
	"time"
)

// SLOConfig describes a service-level objective in terms of an acceptable
// success rate over a rolling window.
type SLOConfig struct {
	Name           string
	TargetSuccessRate float64 // e.g. 0.999 for three nines
	Window            time.Duration
	MinSamples        int
}

// SLOTracker keeps a rolling window of outcomes and reports whether the
// configured objective is currently being met and how much error budget
// remains.
type SLOTracker struct {
	config SLOConfig

	mu      sync.Mutex
	samples []sample
}

// NewSLOTracker returns a tracker for cfg.
func NewSLOTracker(cfg SLOConfig) *SLOTracker {
	return &SLOTracker{config: cfg}
}

// Record adds one outcome to the rolling window.
func (t *SLOTracker) Record(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{at: time.Now(), success: success})
	t.evictLocked()
}

func (t *SLOTracker) evictLocked() {
	cutoff := time.Now().Add(-t.config.Window)
	i := 0
	for i < len(t.samples) && t.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = t.samples[i:]
	}
}

// SuccessRate returns the current window's success rate, or 1.0 if there
// are no samples yet (an untested endpoint is presumed healthy).
func (t *SLOTracker) SuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked()
	if len(t.samples) == 0 {
		return 1.0
	}
	successes := 0
	for _, s := range t.samples {
		if s.success {
			successes++
		}
	}
	return float64(successes) / float64(len(t.samples))
}

// IsViolated reports whether the objective is currently being missed. It
// requires MinSamples before judging, to avoid a false violation on a
// cold start.
func (t *SLOTracker) IsViolated() bool {
	t.mu.Lock()
	n := len(t.samples)
	t.mu.Unlock()
	if n < t.config.MinSamples {
		return false
	}
	return t.SuccessRate() < t.config.TargetSuccessRate
}

// ErrorBudgetRemaining returns the fraction of the allowed error budget
// not yet consumed, in [0, 1]. A target of 0.999 allows a 0.001 error
// budget; spending half of it leaves 0.5 remaining.
func (t *SLOTracker) ErrorBudgetRemaining() float64 {
	allowed := 1 - t.config.TargetSuccessRate
	if allowed <= 0 {
		return 0
	}
	spent := 1 - t.SuccessRate()
	remaining := 1 - spent/allowed
	if remaining < 0 {
		return 0
	}
	if remaining > 1 {
		return 1
	}
	return remaining
}

// SLOCircuitBreakerIntegration trips the paired breaker open when the
// tracked objective is violated, giving the breaker an SLO-driven reason
// to open beyond its own consecutive-failure counting.
type SLOCircuitBreakerIntegration struct {
	tracker *SLOTracker
	breaker *CircuitBreaker
}

// NewSLOCircuitBreakerIntegration pairs a tracker with a breaker.
func NewSLOCircuitBreakerIntegration(tracker *SLOTracker, breaker *CircuitBreaker) *SLOCircuitBreakerIntegration {
	return &SLOCircuitBreakerIntegration{tracker: tracker, breaker: breaker}
}

// RecordOutcome feeds one outcome to the tracker and, if the objective is
// now violated while the breaker is still closed, forces it open.
func (s *SLOCircuitBreakerIntegration) RecordOutcome(success bool) {
	s.tracker.Record(success)
	if s.tracker.IsViolated() && s.breaker.State() == StateClosed {
		s.breaker.transitionLocked(StateClosed, StateOpen)
	}
}
