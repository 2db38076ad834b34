package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// BulkheadConfig tunes a Bulkhead's concurrency and queueing limits.
type BulkheadConfig struct {
	// Enabled gates the bulkhead entirely: false makes Acquire always
	// succeed without ever blocking or counting occupancy, so the
	// bulkhead can be wired in everywhere and toggled off per endpoint
	// without removing the call sites.
	Enabled       bool
	MaxConcurrent int
	MaxWaitQueue  int
	WaitTimeout   time.Duration
}

// DefaultBulkheadConfig permits ten concurrent calls with up to twenty
// queued behind them, each waiting at most five seconds for a slot.
var DefaultBulkheadConfig = BulkheadConfig{
	Enabled:       true,
	MaxConcurrent: 10,
	MaxWaitQueue:  20,
	WaitTimeout:   5 * time.Second,
}

// BulkheadStats is a snapshot of a Bulkhead's current occupancy and
// lifetime outcome counts.
type BulkheadStats struct {
	InFlight int
	Queued   int
	Capacity int
	// Rejected counts calls refused outright because the wait queue was
	// already full.
	Rejected uint64
	// TimedOut counts calls that waited in the queue but never got a slot
	// before their wait timeout elapsed.
	TimedOut uint64
}

// Bulkhead bounds how many calls to one endpoint may run concurrently,
// queueing callers beyond that limit up to a configured depth and timeout.
type Bulkhead struct {
	config BulkheadConfig

	slots chan struct{}

	mu     sync.Mutex
	queued int

	rejected atomic.Uint64
	timedOut atomic.Uint64
}

// NewBulkhead returns a Bulkhead with an empty slot pool sized to
// cfg.MaxConcurrent.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	return &Bulkhead{
		config: cfg,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
	}
}

// BulkheadGuard represents one held slot; Release must be called exactly
// once to return it to the pool. A second Release is a no-op, matching the
// original's exactly-once release semantics.
type BulkheadGuard struct {
	b        *Bulkhead
	released atomic.Bool
}

// Release returns the slot this guard holds. Safe to call more than once;
// only the first call has any effect. A guard acquired from a disabled
// bulkhead holds no slot and Release is always a no-op for it.
func (g *BulkheadGuard) Release() {
	if g.released.Swap(true) {
		return
	}
	if g.b == nil {
		return
	}
	<-g.b.slots
}

// Acquire blocks until a concurrency slot is free, the wait queue is full,
// the wait timeout elapses, or ctx is cancelled — whichever comes first.
// If the bulkhead is disabled, Acquire always succeeds immediately.
func (b *Bulkhead) Acquire(ctx context.Context) (*BulkheadGuard, error) {
	if !b.config.Enabled {
		return &BulkheadGuard{}, nil
	}

	select {
	case b.slots <- struct{}{}:
		return &BulkheadGuard{b: b}, nil
	default:
	}

	b.mu.Lock()
	if b.queued >= b.config.MaxWaitQueue {
		b.mu.Unlock()
		b.rejected.Add(1)
		return nil, ErrBulkheadRejected
	}
	b.queued++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.queued--
		b.mu.Unlock()
	}()

	timeout := b.config.WaitTimeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case b.slots <- struct{}{}:
		return &BulkheadGuard{b: b}, nil
	case <-timeoutCh:
		b.timedOut.Add(1)
		return nil, ErrBulkheadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the bulkhead's current occupancy.
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	queued := b.queued
	b.mu.Unlock()
	return BulkheadStats{
		InFlight: len(b.slots),
		Queued:   queued,
		Capacity: cap(b.slots),
		Rejected: b.rejected.Load(),
		TimedOut: b.timedOut.Load(),
	}
}

// Execute acquires a slot, runs fn, and releases the slot regardless of
// fn's outcome.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	guard, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn(ctx)
}
