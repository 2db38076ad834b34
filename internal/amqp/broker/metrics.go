package broker

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the broker-level prometheus collectors, registered once per
// Broker instance against a caller-supplied registry (usually the process
// default registry).
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsOpen    prometheus.Gauge
	MessagesPublished  prometheus.Counter
	MessagesDelivered  prometheus.Counter
	MessagesAcked      prometheus.Counter
	MessagesRequeued   prometheus.Counter
}

// NewMetrics builds and registers the broker's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mockforge", Subsystem: "amqp", Name: "connections_total",
			Help: "Total AMQP connections accepted.",
		}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mockforge", Subsystem: "amqp", Name: "connections_open",
			Help: "Currently open AMQP connections.",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mockforge", Subsystem: "amqp", Name: "messages_published_total",
			Help: "Messages accepted via basic.publish.",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mockforge", Subsystem: "amqp", Name: "messages_delivered_total",
			Help: "Messages delivered to consumers or basic.get callers.",
		}),
		MessagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mockforge", Subsystem: "amqp", Name: "messages_acked_total",
			Help: "Messages acknowledged by consumers.",
		}),
		MessagesRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mockforge", Subsystem: "amqp", Name: "messages_requeued_total",
			Help: "Messages requeued after nack/reject/recover.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ConnectionsTotal, m.ConnectionsOpen, m.MessagesPublished,
		m.MessagesDelivered, m.MessagesAcked, m.MessagesRequeued,
	} {
		reg.MustRegister(c)
	}
	return m
}
