package resilience

import (
	"context"

	"github.com/go-logr/logr"
)

// AlertHandler reacts to a circuit breaker's state transitions. Passed to
// RunAlerts alongside a breaker's Subscribe() channel.
type AlertHandler interface {
	Handle(StateChange)
}

// LogAlertHandler emits a structured log line for every transition, at a
// severity matching its direction: opening is an error (something just
// started failing loudly), closing and half-opening are informational.
type LogAlertHandler struct {
	log logr.Logger
}

// NewLogAlertHandler returns a handler that logs through log.
func NewLogAlertHandler(log logr.Logger) *LogAlertHandler {
	return &LogAlertHandler{log: log}
}

// Handle logs one state transition.
func (h *LogAlertHandler) Handle(change StateChange) {
	fields := []any{"endpoint", change.Endpoint, "from", change.From.String(), "to", change.To.String()}
	if change.To == StateOpen {
		h.log.Error(nil, "circuit breaker opened", fields...)
		return
	}
	h.log.Info("circuit breaker transitioned", fields...)
}

// RunAlerts drains changes and dispatches each to every handler until ctx
// is cancelled or changes is closed. Intended to be started in its own
// goroutine against a CircuitBreaker.Subscribe() channel.
func RunAlerts(ctx context.Context, changes <-chan StateChange, handlers ...AlertHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			for _, h := range handlers {
				h.Handle(change)
			}
		}
	}
}
