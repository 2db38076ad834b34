/*
Copyright 2024 The MockForge Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SaaSy-Solutions/mockforge/internal/amqp/broker"
	"github.com/SaaSy-Solutions/mockforge/internal/resilience"
)

var (
	listenAddr        string
	tlsCertFile       string
	tlsKeyFile        string
	snapshotDir       string
	redisAddr         string
	breakerThreshold  uint32
	bulkheadCapacity  int
	healthCheckPeriod time.Duration
	devLogging        bool
)

func main() {
	root := &cobra.Command{
		Use:   "mockforge-broker",
		Short: "Run the MockForge AMQP mock broker",
		RunE:  run,
	}

	flags := root.Flags()
	flags.StringVar(&listenAddr, "listen-addr", ":5672", "address to accept AMQP connections on")
	flags.StringVar(&tlsCertFile, "tls-cert-file", "", "TLS certificate path; enables amqps:// when set with --tls-key-file")
	flags.StringVar(&tlsKeyFile, "tls-key-file", "", "TLS key path; enables amqps:// when set with --tls-cert-file")
	flags.StringVar(&snapshotDir, "snapshot-dir", "", "directory for local circuit breaker snapshots; disabled when empty")
	flags.StringVar(&redisAddr, "redis-addr", "", "Redis address for distributed circuit breaker snapshots; disabled when empty")
	flags.Uint32Var(&breakerThreshold, "breaker-failure-threshold", resilience.DefaultBreakerConfig.FailureThreshold, "consecutive failures before a circuit breaker trips open")
	flags.IntVar(&bulkheadCapacity, "bulkhead-max-concurrent", resilience.DefaultBulkheadConfig.MaxConcurrent, "max concurrent calls per bulkhead")
	flags.DurationVar(&healthCheckPeriod, "health-check-interval", 0, "interval for proactive health probing; disabled when zero")
	flags.BoolVar(&devLogging, "dev-logging", false, "use zap's human-readable development encoder instead of JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	zapLog, err := buildZapLogger(devLogging)
	if err != nil {
		return fmt.Errorf("constructing logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	log := zapr.NewLogger(zapLog)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()

	var opts []broker.Option
	opts = append(opts, broker.WithLogger(log), broker.WithMetricsRegistry(reg))
	if tlsCertFile != "" && tlsKeyFile != "" {
		opts = append(opts, broker.WithTLS(tlsCertFile, tlsKeyFile))
	}
	b := broker.NewBroker(opts...)

	const listenerEndpoint = "amqp-listener"

	breakerCfg := resilience.DefaultBreakerConfig
	breakerCfg.FailureThreshold = breakerThreshold
	breakers := resilience.NewCircuitBreakerManager(breakerCfg, log)
	listenerBreaker := breakers.Get(listenerEndpoint)

	bulkheadCfg := resilience.DefaultBulkheadConfig
	bulkheadCfg.MaxConcurrent = bulkheadCapacity
	bulkheads := resilience.NewBulkheadManager(bulkheadCfg)
	listenerBulkhead := bulkheads.Get(listenerEndpoint)

	resilienceMetrics := resilience.NewMetrics(reg)

	snapshots, err := buildSnapshotStore(ctx)
	if err != nil {
		return err
	}
	if snapshots != nil {
		if err := snapshots.Restore(ctx, listenerBreaker); err != nil {
			log.Error(err, "restoring circuit breaker snapshot, starting closed")
		}
	}

	go resilience.RunAlerts(ctx, listenerBreaker.Subscribe(),
		resilience.NewLogAlertHandler(log),
		metricsAlertHandler{resilienceMetrics},
	)
	go runSnapshotLoop(ctx, snapshots, listenerBreaker)

	if healthCheckPeriod > 0 {
		checker := resilience.NewHealthChecker(listenerBreaker, tcpDialProbe(listenAddr), healthCheckPeriod, log)
		go checker.Run(ctx)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	log.Info("mockforge broker listening", "addr", listenAddr, "tls", tlsCertFile != "")

	gated := &bulkheadListener{Listener: ln, bulkhead: listenerBulkhead, ctx: ctx}
	return b.Serve(ctx, gated)
}

// metricsAlertHandler forwards breaker state changes into the resilience
// metrics collectors, satisfying the same AlertHandler interface as
// LogAlertHandler so both run off one subscription fan-out.
type metricsAlertHandler struct {
	metrics *resilience.Metrics
}

func (h metricsAlertHandler) Handle(change resilience.StateChange) {
	h.metrics.Observe(change)
}

func buildSnapshotStore(ctx context.Context) (interface {
	Restore(context.Context, *resilience.CircuitBreaker) error
	Save(context.Context, *resilience.CircuitBreaker) error
}, error) {
	var file *resilience.FileSnapshotStore
	if snapshotDir != "" {
		f, err := resilience.NewFileSnapshotStore(snapshotDir)
		if err != nil {
			return nil, fmt.Errorf("setting up snapshot store: %w", err)
		}
		file = f
	}

	if redisAddr == "" {
		if file == nil {
			return nil, nil
		}
		return fileOnlyStore{file}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	distributed := resilience.NewDistributedSnapshotStore(client, "mockforge", time.Hour)
	if file == nil {
		_, perr := client.Ping(ctx).Result()
		if perr != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", redisAddr, perr)
		}
		return distributedOnlyStore{distributed}, nil
	}
	return resilience.NewFallbackSnapshotStore(distributed, file), nil
}

type fileOnlyStore struct{ file *resilience.FileSnapshotStore }

func (s fileOnlyStore) Restore(_ context.Context, b *resilience.CircuitBreaker) error {
	return s.file.Restore(b)
}

func (s fileOnlyStore) Save(_ context.Context, b *resilience.CircuitBreaker) error {
	return s.file.Save(b)
}

type distributedOnlyStore struct{ distributed *resilience.DistributedSnapshotStore }

func (s distributedOnlyStore) Restore(ctx context.Context, b *resilience.CircuitBreaker) error {
	return s.distributed.Restore(ctx, b)
}

func (s distributedOnlyStore) Save(ctx context.Context, b *resilience.CircuitBreaker) error {
	return s.distributed.Save(ctx, b)
}

func runSnapshotLoop(ctx context.Context, snapshots interface {
	Save(context.Context, *resilience.CircuitBreaker) error
}, b *resilience.CircuitBreaker) {
	if snapshots == nil {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = snapshots.Save(context.Background(), b)
			return
		case <-ticker.C:
			_ = snapshots.Save(ctx, b)
		}
	}
}

func tcpDialProbe(addr string) resilience.Probe {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// bulkheadListener gates Accept behind a bulkhead slot, so connection
// throttling is enforced before the broker ever sees the socket. The slot
// is released when the accepted connection is closed.
type bulkheadListener struct {
	net.Listener
	bulkhead *resilience.Bulkhead
	ctx      context.Context
}

func (l *bulkheadListener) Accept() (net.Conn, error) {
	guard, err := l.bulkhead.Acquire(l.ctx)
	if err != nil {
		return nil, fmt.Errorf("accepting connection: %w", err)
	}
	conn, err := l.Listener.Accept()
	if err != nil {
		guard.Release()
		return nil, err
	}
	return &releasingConn{Conn: conn, guard: guard}, nil
}

type releasingConn struct {
	net.Conn
	guard *resilience.BulkheadGuard
}

func (c *releasingConn) Close() error {
	c.guard.Release()
	return c.Conn.Close()
}

func buildZapLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
