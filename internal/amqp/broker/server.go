package broker

import (
	"context"
	"net"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

// Broker owns the shared exchange/queue state every accepted connection
// dispatches against, plus the listener loop that accepts new connections.
type Broker struct {
	Exchanges *ExchangeManager
	Queues    *QueueManager
	Metrics   *Metrics

	log logr.Logger
	tls *TLSConfig
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithTLS enables amqps:// on the listener passed to Serve.
func WithTLS(certFile, keyFile string) Option {
	return func(b *Broker) {
		b.tls = &TLSConfig{CertFile: certFile, KeyFile: keyFile}
	}
}

// WithLogger overrides the broker's logr.Logger, defaulting to logr.Discard.
func WithLogger(log logr.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// WithMetricsRegistry registers the broker's prometheus collectors against
// reg instead of the default, so embedders (e.g. tests) can use their own.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(b *Broker) { b.Metrics = NewMetrics(reg) }
}

// NewBroker constructs a broker with empty exchange/queue state.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		Exchanges: NewExchangeManager(),
		Queues:    NewQueueManager(),
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.Metrics == nil {
		b.Metrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	return b
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
// Each connection is served on its own goroutine and torn down independently
// on error; one bad connection never brings down the listener.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	wrapped, err := wrapListener(ln, b.tls)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = wrapped.Close()
	}()

	for {
		conn, err := wrapped.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}

		id := NextConnectionID()
		b.Metrics.ConnectionsTotal.Inc()
		b.Metrics.ConnectionsOpen.Inc()

		c := NewConnection(id, conn, b, b.log)
		go func() {
			defer b.Metrics.ConnectionsOpen.Dec()
			if err := c.Serve(ctx); err != nil {
				b.log.V(1).Info("connection ended", "connectionID", id, "error", err.Error())
			}
		}()
	}
}
