package resilience

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CircuitBreakerSnapshot is the persisted form of a breaker's state,
// restored at startup so a restart doesn't silently forget that an
// endpoint was tripped open.
type CircuitBreakerSnapshot struct {
	Endpoint             string
	State                State
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	TotalFailures        uint64
	TotalSuccesses       uint64
	TotalRequests        uint64
	RejectedRequests     uint64
	OpenedAt             time.Time
	SavedAt              time.Time
}

func newSnapshot(b *CircuitBreaker) CircuitBreakerSnapshot {
	stats := b.Stats()
	return CircuitBreakerSnapshot{
		Endpoint:             b.Endpoint,
		State:                stats.State,
		ConsecutiveFailures:  stats.ConsecutiveFailures,
		ConsecutiveSuccesses: stats.ConsecutiveSuccesses,
		TotalFailures:        stats.TotalFailures,
		TotalSuccesses:       stats.TotalSuccesses,
		TotalRequests:        stats.TotalRequests,
		RejectedRequests:     stats.RejectedRequests,
		OpenedAt:             stats.OpenedAt,
		SavedAt:              time.Now(),
	}
}

// restore applies a snapshot's counters and state onto a freshly
// constructed breaker for the same endpoint.
func restore(b *CircuitBreaker, snap CircuitBreakerSnapshot) {
	b.mu.Lock()
	b.state = snap.State
	b.openedAt = snap.OpenedAt
	b.mu.Unlock()
	b.consecutiveFailures.Store(snap.ConsecutiveFailures)
	b.consecutiveSuccesses.Store(snap.ConsecutiveSuccesses)
	b.totalFailures.Store(snap.TotalFailures)
	b.totalSuccesses.Store(snap.TotalSuccesses)
	b.totalRequests.Store(snap.TotalRequests)
	b.rejectedRequests.Store(snap.RejectedRequests)
}

// FileSnapshotStore persists circuit breaker snapshots to a directory, one
// gob-encoded file per endpoint. encoding/gob is a deliberate standard
// library choice here: the wire format is private to this process, and no
// third-party binary codec in the dependency surface targets this
// save-one-small-struct-per-file shape without pulling in schema
// generation that nothing else in this module would exercise.
type FileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore returns a store rooted at dir, creating it if
// necessary.
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (s *FileSnapshotStore) path(endpoint string) string {
	return filepath.Join(s.dir, sanitizeEndpoint(endpoint)+".gob")
}

// Save persists b's current state.
func (s *FileSnapshotStore) Save(b *CircuitBreaker) error {
	snap := newSnapshot(b)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encoding circuit breaker snapshot: %w", err)
	}
	return os.WriteFile(s.path(b.Endpoint), buf.Bytes(), 0o644)
}

// Load reads a previously persisted snapshot for endpoint, returning
// (zero, false, nil) if none exists.
func (s *FileSnapshotStore) Load(endpoint string) (CircuitBreakerSnapshot, bool, error) {
	data, err := os.ReadFile(s.path(endpoint))
	if os.IsNotExist(err) {
		return CircuitBreakerSnapshot{}, false, nil
	}
	if err != nil {
		return CircuitBreakerSnapshot{}, false, fmt.Errorf("reading circuit breaker snapshot: %w", err)
	}
	var snap CircuitBreakerSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return CircuitBreakerSnapshot{}, false, fmt.Errorf("decoding circuit breaker snapshot: %w", err)
	}
	return snap, true, nil
}

// Restore loads a persisted snapshot for b.Endpoint, if any, and applies it.
func (s *FileSnapshotStore) Restore(b *CircuitBreaker) error {
	snap, ok, err := s.Load(b.Endpoint)
	if err != nil || !ok {
		return err
	}
	restore(b, snap)
	return nil
}

func sanitizeEndpoint(endpoint string) string {
	out := make([]byte, len(endpoint))
	for i := 0; i < len(endpoint); i++ {
		c := endpoint[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	if len(out) == 0 {
		return "_root"
	}
	return string(out)
}
