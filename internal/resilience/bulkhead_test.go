package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Enabled: true, MaxConcurrent: 2, MaxWaitQueue: 0, WaitTimeout: 10 * time.Millisecond})

	g1, err := b.Acquire(context.Background())
	require.NoError(t, err)
	g2, err := b.Acquire(context.Background())
	require.NoError(t, err)

	_, err = b.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBulkheadRejected)

	g1.Release()
	g3, err := b.Acquire(context.Background())
	assert.NoError(t, err)

	g2.Release()
	g3.Release()
}

func TestBulkheadGuard_ReleaseIsIdempotent(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Enabled: true, MaxConcurrent: 1, MaxWaitQueue: 0, WaitTimeout: time.Millisecond})
	g, err := b.Acquire(context.Background())
	require.NoError(t, err)

	g.Release()
	assert.NotPanics(t, func() { g.Release() })

	_, err = b.Acquire(context.Background())
	assert.NoError(t, err)
}

func TestBulkhead_WaitQueueTimesOut(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Enabled: true, MaxConcurrent: 1, MaxWaitQueue: 1, WaitTimeout: 10 * time.Millisecond})
	g, err := b.Acquire(context.Background())
	require.NoError(t, err)
	defer g.Release()

	start := time.Now()
	_, err = b.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBulkheadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestBulkhead_RejectedAndTimedOutCountsAreDistinct(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Enabled: true, MaxConcurrent: 1, MaxWaitQueue: 1, WaitTimeout: 30 * time.Millisecond})
	g, err := b.Acquire(context.Background())
	require.NoError(t, err)
	defer g.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := b.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrBulkheadTimeout)
	}()
	time.Sleep(5 * time.Millisecond) // let the goroutine above claim the one wait-queue slot

	_, err = b.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBulkheadRejected)

	wg.Wait()

	stats := b.Stats()
	assert.EqualValues(t, 1, stats.TimedOut)
	assert.EqualValues(t, 1, stats.Rejected)
}

func TestBulkhead_DisabledAlwaysAcquires(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Enabled: false, MaxConcurrent: 1, MaxWaitQueue: 0})
	g1, err := b.Acquire(context.Background())
	require.NoError(t, err)
	g2, err := b.Acquire(context.Background())
	require.NoError(t, err)

	g1.Release()
	g2.Release()
}

func TestBulkhead_Stats(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Enabled: true, MaxConcurrent: 3, MaxWaitQueue: 5, WaitTimeout: time.Second})
	g, err := b.Acquire(context.Background())
	require.NoError(t, err)
	defer g.Release()

	stats := b.Stats()
	assert.Equal(t, 1, stats.InFlight)
	assert.Equal(t, 3, stats.Capacity)
}

func TestBulkhead_Execute_ConcurrentCallers(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Enabled: true, MaxConcurrent: 4, MaxWaitQueue: 16, WaitTimeout: time.Second})
	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Execute(context.Background(), func(context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}
