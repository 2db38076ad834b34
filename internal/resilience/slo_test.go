package resilience

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSLOTracker_SuccessRateDefaultsHealthy(t *testing.T) {
	tr := NewSLOTracker(SLOConfig{Name: "checkout", TargetSuccessRate: 0.99, Window: time.Minute, MinSamples: 10})
	assert.Equal(t, 1.0, tr.SuccessRate())
	assert.False(t, tr.IsViolated())
}

func TestSLOTracker_DetectsViolation(t *testing.T) {
	tr := NewSLOTracker(SLOConfig{Name: "checkout", TargetSuccessRate: 0.9, Window: time.Minute, MinSamples: 5})
	for i := 0; i < 3; i++ {
		tr.Record(true)
	}
	for i := 0; i < 3; i++ {
		tr.Record(false)
	}
	assert.True(t, tr.IsViolated())
	assert.InDelta(t, 0.5, tr.SuccessRate(), 0.001)
}

func TestSLOTracker_ErrorBudgetRemaining(t *testing.T) {
	tr := NewSLOTracker(SLOConfig{Name: "checkout", TargetSuccessRate: 0.9, Window: time.Minute, MinSamples: 1})
	for i := 0; i < 19; i++ {
		tr.Record(true)
	}
	tr.Record(false)
	assert.InDelta(t, 0.5, tr.ErrorBudgetRemaining(), 0.01)
}

func TestSLOTracker_EvictsStaleSamples(t *testing.T) {
	tr := NewSLOTracker(SLOConfig{Name: "checkout", TargetSuccessRate: 0.99, Window: 10 * time.Millisecond, MinSamples: 1})
	tr.Record(false)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1.0, tr.SuccessRate())
}

func TestSLOCircuitBreakerIntegration_TripsOnViolation(t *testing.T) {
	tr := NewSLOTracker(SLOConfig{Name: "checkout", TargetSuccessRate: 0.9, Window: time.Minute, MinSamples: 2})
	b := NewCircuitBreaker("checkout", DefaultBreakerConfig, logr.Discard())
	integ := NewSLOCircuitBreakerIntegration(tr, b)

	integ.RecordOutcome(false)
	integ.RecordOutcome(false)

	require.Equal(t, StateOpen, b.State())
}
