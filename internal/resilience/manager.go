package resilience

import (
	"sync"

	"github.com/go-logr/logr"
)

// CircuitBreakerManager lazily creates one CircuitBreaker per endpoint the
// first time it's asked for, and returns the same instance on every
// subsequent call for that endpoint.
type CircuitBreakerManager struct {
	config          BreakerConfig
	log             logr.Logger
	thresholdConfig ThresholdConfig
	dynamicThreshold bool

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	adjusters map[string]*DynamicThresholdAdjuster
}

// NewCircuitBreakerManager returns a manager that creates breakers with cfg.
// Breakers keep their static FailureThreshold for their whole lifetime; use
// NewCircuitBreakerManagerWithDynamicThreshold to retune it at runtime.
func NewCircuitBreakerManager(cfg BreakerConfig, log logr.Logger) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:    cfg,
		log:       log,
		breakers:  map[string]*CircuitBreaker{},
		adjusters: map[string]*DynamicThresholdAdjuster{},
	}
}

// NewCircuitBreakerManagerWithDynamicThreshold returns a manager whose
// RecordOutcome also feeds a per-endpoint DynamicThresholdAdjuster and
// applies its computed factor back onto that endpoint's breaker, tightening
// the effective failure threshold when errors run hot and relaxing it when
// they run cool.
func NewCircuitBreakerManagerWithDynamicThreshold(cfg BreakerConfig, thresholdCfg ThresholdConfig, log logr.Logger) *CircuitBreakerManager {
	m := NewCircuitBreakerManager(cfg, log)
	m.thresholdConfig = thresholdCfg
	m.dynamicThreshold = true
	return m
}

// Get returns the breaker for endpoint, creating it on first use.
func (m *CircuitBreakerManager) Get(endpoint string) *CircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[endpoint]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[endpoint]; ok {
		return b
	}
	b = NewCircuitBreaker(endpoint, m.config, m.log)
	m.breakers[endpoint] = b
	return b
}

// RecordOutcome records a call's outcome against endpoint's breaker and,
// when dynamic threshold adjustment is enabled, feeds the same outcome to
// that endpoint's DynamicThresholdAdjuster and applies the resulting
// factor onto the breaker's effective failure threshold.
func (m *CircuitBreakerManager) RecordOutcome(endpoint string, success bool) {
	b := m.Get(endpoint)
	if success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}

	if !m.dynamicThreshold {
		return
	}
	adj := m.adjusterFor(endpoint)
	adj.Record(success)
	factor := adj.AdjustmentFactor()
	adjusted := uint32(float64(m.config.FailureThreshold) * factor)
	if adjusted < 1 {
		adjusted = 1
	}
	b.SetFailureThreshold(adjusted)
}

func (m *CircuitBreakerManager) adjusterFor(endpoint string) *DynamicThresholdAdjuster {
	m.mu.RLock()
	a, ok := m.adjusters[endpoint]
	m.mu.RUnlock()
	if ok {
		return a
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.adjusters[endpoint]; ok {
		return a
	}
	a = NewDynamicThresholdAdjuster(m.thresholdConfig)
	m.adjusters[endpoint] = a
	return a
}

// All returns every breaker the manager has created so far, keyed by
// endpoint, for snapshotting or metrics export.
func (m *CircuitBreakerManager) All() map[string]*CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*CircuitBreaker, len(m.breakers))
	for k, v := range m.breakers {
		out[k] = v
	}
	return out
}

// BulkheadManager lazily creates one Bulkhead per endpoint.
type BulkheadManager struct {
	config BulkheadConfig

	mu        sync.RWMutex
	bulkheads map[string]*Bulkhead
}

// NewBulkheadManager returns a manager that creates bulkheads with cfg.
func NewBulkheadManager(cfg BulkheadConfig) *BulkheadManager {
	return &BulkheadManager{config: cfg, bulkheads: map[string]*Bulkhead{}}
}

// Get returns the bulkhead for endpoint, creating it on first use.
func (m *BulkheadManager) Get(endpoint string) *Bulkhead {
	m.mu.RLock()
	b, ok := m.bulkheads[endpoint]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bulkheads[endpoint]; ok {
		return b
	}
	b = NewBulkhead(m.config)
	m.bulkheads[endpoint] = b
	return b
}

// PerUserBulkhead lazily creates one Bulkhead per user id, so a single
// noisy caller can't starve the slots every other user shares.
type PerUserBulkhead struct {
	config BulkheadConfig

	mu        sync.RWMutex
	bulkheads map[string]*Bulkhead
}

// NewPerUserBulkhead returns a manager that creates per-user bulkheads
// with cfg.
func NewPerUserBulkhead(cfg BulkheadConfig) *PerUserBulkhead {
	return &PerUserBulkhead{config: cfg, bulkheads: map[string]*Bulkhead{}}
}

// Get returns the bulkhead for userID, creating it on first use.
func (m *PerUserBulkhead) Get(userID string) *Bulkhead {
	m.mu.RLock()
	b, ok := m.bulkheads[userID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bulkheads[userID]; ok {
		return b
	}
	b = NewBulkhead(m.config)
	m.bulkheads[userID] = b
	return b
}
