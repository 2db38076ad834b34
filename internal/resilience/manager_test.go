package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerManager_ReturnsSameInstance(t *testing.T) {
	m := NewCircuitBreakerManager(DefaultBreakerConfig, logr.Discard())
	a := m.Get("svc-a")
	b := m.Get("svc-a")
	assert.Same(t, a, b)

	c := m.Get("svc-b")
	assert.NotSame(t, a, c)
	assert.Len(t, m.All(), 2)
}

func TestCircuitBreakerManager_ConcurrentGet(t *testing.T) {
	m := NewCircuitBreakerManager(DefaultBreakerConfig, logr.Discard())
	var wg sync.WaitGroup
	results := make([]*CircuitBreaker, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Get("shared")
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestBulkheadManager_ReturnsSameInstance(t *testing.T) {
	m := NewBulkheadManager(DefaultBulkheadConfig)
	a := m.Get("svc-a")
	b := m.Get("svc-a")
	assert.Same(t, a, b)
}

func TestPerUserBulkhead_IsolatesUsers(t *testing.T) {
	m := NewPerUserBulkhead(BulkheadConfig{Enabled: true, MaxConcurrent: 1, MaxWaitQueue: 0, WaitTimeout: 0})
	alice := m.Get("alice")
	bob := m.Get("bob")
	assert.NotSame(t, alice, bob)
	assert.Same(t, alice, m.Get("alice"))
}

func TestCircuitBreakerManager_DynamicThresholdAdjustsEffectiveThreshold(t *testing.T) {
	cfg := BreakerConfig{Enabled: true, FailureThreshold: 10, SuccessThreshold: 1, OpenTimeout: 0, HalfOpenMaxCalls: 1}
	thresholdCfg := ThresholdConfig{Window: time.Minute, MinSamples: 4, HighErrorRate: 0.5, LowErrorRate: 0.1}
	m := NewCircuitBreakerManagerWithDynamicThreshold(cfg, thresholdCfg, logr.Discard())

	for i := 0; i < 4; i++ {
		m.RecordOutcome("svc-a", false)
	}

	b := m.Get("svc-a")
	// Four failures at a 100% error rate tightens the threshold to 0.9x
	// the configured ten, i.e. nine.
	assert.EqualValues(t, 9, b.effectiveFailureThreshold.Load())
}
