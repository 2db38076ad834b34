package resilience

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSnapshotStore_SaveAndRestore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)

	cfg := BreakerConfig{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxCalls: 1}
	original := NewCircuitBreaker("payments", cfg, logr.Discard())
	original.Allow()
	original.RecordFailure()
	require.Equal(t, StateOpen, original.State())

	require.NoError(t, store.Save(original))

	restored := NewCircuitBreaker("payments", cfg, logr.Discard())
	require.NoError(t, store.Restore(restored))

	assert.Equal(t, StateOpen, restored.State())
	assert.Equal(t, uint64(1), restored.Stats().TotalFailures)
}

func TestFileSnapshotStore_LoadMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)

	_, ok, err := store.Load("never-saved")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSanitizeEndpoint(t *testing.T) {
	assert.Equal(t, "svc_a_b", sanitizeEndpoint("svc:a/b"))
	assert.Equal(t, "_root", sanitizeEndpoint(""))
}
