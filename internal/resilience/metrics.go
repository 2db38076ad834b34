package resilience

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors exported for resilience
// primitives, mirroring the broker package's metrics.go so both surfaces
// look the same to an operator scraping /metrics.
type Metrics struct {
	BreakerState       *prometheus.GaugeVec
	BreakerTrips       *prometheus.CounterVec
	BulkheadInFlight   *prometheus.GaugeVec
	BulkheadRejections *prometheus.CounterVec
}

// NewMetrics registers the resilience collectors against reg under the
// "mockforge_resilience" namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mockforge",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open) per endpoint.",
		}, []string{"endpoint"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mockforge",
			Subsystem: "resilience",
			Name:      "breaker_trips_total",
			Help:      "Total number of times a circuit breaker has transitioned to open.",
		}, []string{"endpoint"}),
		BulkheadInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mockforge",
			Subsystem: "resilience",
			Name:      "bulkhead_in_flight",
			Help:      "Number of calls currently holding a bulkhead slot.",
		}, []string{"endpoint"}),
		BulkheadRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mockforge",
			Subsystem: "resilience",
			Name:      "bulkhead_rejections_total",
			Help:      "Total number of calls refused because a bulkhead was full.",
		}, []string{"endpoint"}),
	}
	reg.MustRegister(m.BreakerState, m.BreakerTrips, m.BulkheadInFlight, m.BulkheadRejections)
	return m
}

// Observe records a breaker's current state and, on any transition to open
// (from closed or half-open), increments the trip counter. Call this from a
// CircuitBreaker.Subscribe() consumer.
func (m *Metrics) Observe(change StateChange) {
	m.BreakerState.WithLabelValues(change.Endpoint).Set(float64(change.To))
	if change.To == StateOpen {
		m.BreakerTrips.WithLabelValues(change.Endpoint).Inc()
	}
}

// ObserveBulkhead records a bulkhead's current occupancy for endpoint, and
// increments the rejection counter when rejected is true.
func (m *Metrics) ObserveBulkhead(endpoint string, stats BulkheadStats, rejected bool) {
	m.BulkheadInFlight.WithLabelValues(endpoint).Set(float64(stats.InFlight))
	if rejected {
		m.BulkheadRejections.WithLabelValues(endpoint).Inc()
	}
}
