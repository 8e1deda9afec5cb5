// Package errors defines relay's error classes and the helpers that sort
// them at the boundaries of a turn.
//
// Collaborator failures each get their own type, and each is recovered where
// it happens:
//   - WorkerError: a worker invocation failed and becomes an error result
//   - AggregationError: synthesis failed and a fallback answer is used
//   - StreamingError: a stream event could not be published and is dropped
//   - CheckpointError: a checkpoint tier could not load or save history
//
// NotFoundError, ValidationError and TimeoutError describe general
// conditions. Of all classes only ValidationError escapes a turn.
//
//	err := errors.NewWorkerError("search failed", cause).WithWorker("web").WithTaskID("t2")
//	if errors.IsRetryable(err) { ... }
//	log.Error("turn failed", "class", errors.Class(err))
package errors

import (
	"errors"
	"fmt"
)

// The standard helpers are re-exported so callers need a single import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity ranks how loudly an error should be reported.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"debug", "info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

// Planning and dispatch.
var (
	ErrEmptyPlan         = New("plan has no tasks")
	ErrDuplicateTask     = New("duplicate task id")
	ErrUnknownWorker     = New("unknown worker")
	ErrWorkerUnavailable = New("worker unavailable")
	ErrWorkerPanic       = New("worker panicked")
	ErrTaskNotFound      = New("task not found")
)

// Stream queues.
var (
	// ErrQueueNotFound is returned for a queue that never existed or was destroyed.
	ErrQueueNotFound = New("stream queue not found")
	ErrQueueClosed   = New("stream queue closed")
)

var (
	ErrTimeout         = New("operation timed out")
	ErrCanceled        = New("operation canceled")
	ErrInvalidInput    = New("invalid input")
	ErrOperationFailed = New("operation failed")
)

// Wrap prefixes err with message, or returns nil for a nil err.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
