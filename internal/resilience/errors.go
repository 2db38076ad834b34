// Package resilience implements the circuit-breaker, bulkhead, and retry
// orchestration layer that sits in front of every simulated backend call:
// it decides whether a call is allowed to proceed, bounds how many run
// concurrently, and governs how failures are retried.
package resilience

import "errors"

var (
	// ErrCircuitOpen is returned when a breaker refuses a call outright.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")
	// ErrBulkheadRejected is returned when a bulkhead refuses a call
	// outright because its wait queue is already at capacity: the caller
	// never waits at all.
	ErrBulkheadRejected = errors.New("resilience: bulkhead rejected, wait queue full")
	// ErrBulkheadTimeout is returned when a caller waited in the bulkhead's
	// queue but no slot freed up before its wait timeout elapsed.
	ErrBulkheadTimeout = errors.New("resilience: bulkhead wait timed out")
	// ErrRetriesExhausted is returned when a retry policy gives up after
	// its configured maximum attempts.
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")
)
