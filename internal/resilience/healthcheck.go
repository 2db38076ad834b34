package resilience

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Probe is a user-supplied check against one endpoint; a non-nil error
// counts as a failure for the paired circuit breaker.
type Probe func(context.Context) error

// HealthChecker runs a Probe on an interval and feeds the outcome to a
// CircuitBreaker, so a breaker can trip on proactive health polling in
// addition to tripping on real traffic failures.
type HealthChecker struct {
	breaker  *CircuitBreaker
	probe    Probe
	interval time.Duration
	log      logr.Logger
}

// NewHealthChecker returns a checker that polls probe every interval and
// records the outcome against breaker.
func NewHealthChecker(breaker *CircuitBreaker, probe Probe, interval time.Duration, log logr.Logger) *HealthChecker {
	return &HealthChecker{
		breaker:  breaker,
		probe:    probe,
		interval: interval,
		log:      log.WithValues("endpoint", breaker.Endpoint),
	}
}

// Run polls until ctx is cancelled. Intended to be started in its own
// goroutine.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.runOnce(ctx)
		}
	}
}

func (h *HealthChecker) runOnce(ctx context.Context) {
	if err := h.probe(ctx); err != nil {
		h.log.V(1).Info("health probe failed", "error", err.Error())
		h.breaker.RecordFailure()
		return
	}
	h.breaker.RecordSuccess()
}
