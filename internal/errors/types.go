package errors

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RelayError is implemented by every error class in this package.
type RelayError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	// IsRetryable reports a transient failure that a retry may clear.
	IsRetryable() bool
	// IsUserFacing reports whether the message is safe to show a client.
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func newBase(message string, cause error, sev Severity, userFacing bool) baseError {
	return baseError{message: message, cause: cause, severity: sev, userFacing: userFacing}
}

func (e *baseError) Error() string {
	return render("", nil, e.message, e.cause)
}

func (e *baseError) Unwrap() error      { return e.cause }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// Message returns the message without the cause.
func (e *baseError) Message() string { return e.message }

func (e *baseError) Is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

// sameClass makes errors.Is(err, &T{}) match any error of class T.
func sameClass[T error](target error) bool {
	_, ok := target.(T)
	return ok
}

// render formats "kind [k=v, ...]: message: cause". Pairs with an empty
// value are left out.
func render(kind string, pairs []string, message string, cause error) string {
	var b strings.Builder
	b.WriteString(kind)
	var ctx []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			ctx = append(ctx, pairs[i]+"="+pairs[i+1])
		}
	}
	if len(ctx) > 0 {
		b.WriteString(" [" + strings.Join(ctx, ", ") + "]")
	}
	if kind != "" {
		b.WriteString(": ")
	}
	b.WriteString(message)
	if cause != nil {
		b.WriteString(": " + cause.Error())
	}
	return b.String()
}

func positive(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// WorkerError is a failed worker invocation.
//
//	errors.NewWorkerError("search request failed", cause).WithWorker("web").WithTaskID("t2").WithAttempt(2)
//	// worker error [worker=web, task=t2, attempt=2]: search request failed: ...
type WorkerError struct {
	baseError
	Worker  string
	TaskID  string
	Attempt int
}

func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{baseError: newBase(message, cause, SeverityError, true)}
}

func (e *WorkerError) WithWorker(name string) *WorkerError  { e.Worker = name; return e }
func (e *WorkerError) WithTaskID(id string) *WorkerError    { e.TaskID = id; return e }
func (e *WorkerError) WithAttempt(n int) *WorkerError       { e.Attempt = n; return e }
func (e *WorkerError) WithSeverity(s Severity) *WorkerError { e.severity = s; return e }
func (e *WorkerError) WithRetryable(r bool) *WorkerError    { e.retryable = r; return e }

func (e *WorkerError) Error() string {
	return render("worker error",
		[]string{"worker", e.Worker, "task", e.TaskID, "attempt", positive(e.Attempt)},
		e.message, e.cause)
}

func (e *WorkerError) Is(target error) bool {
	return sameClass[*WorkerError](target) || e.baseError.Is(target)
}

// AggregationError is a failed synthesis step.
type AggregationError struct {
	baseError
	ThreadID string
}

func NewAggregationError(message string, cause error) *AggregationError {
	return &AggregationError{baseError: newBase(message, cause, SeverityError, false)}
}

func (e *AggregationError) WithThreadID(id string) *AggregationError { e.ThreadID = id; return e }

func (e *AggregationError) Error() string {
	return render("aggregation error", []string{"thread", e.ThreadID}, e.message, e.cause)
}

func (e *AggregationError) Is(target error) bool {
	return sameClass[*AggregationError](target) || e.baseError.Is(target)
}

// StreamingError is a stream event that could not be delivered.
type StreamingError struct {
	baseError
	QueueID string
	Source  string
}

func NewStreamingError(message string, cause error) *StreamingError {
	return &StreamingError{baseError: newBase(message, cause, SeverityWarning, false)}
}

func (e *StreamingError) WithQueueID(id string) *StreamingError    { e.QueueID = id; return e }
func (e *StreamingError) WithSource(source string) *StreamingError { e.Source = source; return e }

func (e *StreamingError) Error() string {
	return render("streaming error", []string{"queue", e.QueueID, "source", e.Source}, e.message, e.cause)
}

func (e *StreamingError) Is(target error) bool {
	return sameClass[*StreamingError](target) || e.baseError.Is(target)
}

// CheckpointError is a checkpoint tier that failed to load, save or connect.
type CheckpointError struct {
	baseError
	Tier     string
	ThreadID string
}

func NewCheckpointError(message string, cause error) *CheckpointError {
	return &CheckpointError{baseError: newBase(message, cause, SeverityError, false)}
}

func (e *CheckpointError) WithTier(tier string) *CheckpointError   { e.Tier = tier; return e }
func (e *CheckpointError) WithThreadID(id string) *CheckpointError { e.ThreadID = id; return e }
func (e *CheckpointError) WithRetryable(r bool) *CheckpointError   { e.retryable = r; return e }

func (e *CheckpointError) Error() string {
	return render("checkpoint error", []string{"tier", e.Tier, "thread", e.ThreadID}, e.message, e.cause)
}

func (e *CheckpointError) Is(target error) bool {
	return sameClass[*CheckpointError](target) || e.baseError.Is(target)
}

// NotFoundError renders as "worker 'math' not found".
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	msg := fmt.Sprintf("%s '%s' not found", resourceType, resourceID)
	return &NotFoundError{
		baseError:    newBase(msg, nil, SeverityWarning, true),
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) WithCause(cause error) *NotFoundError { e.cause = cause; return e }

func (e *NotFoundError) Error() string {
	return render("", nil, e.message, e.cause)
}

func (e *NotFoundError) Is(target error) bool {
	return sameClass[*NotFoundError](target) || e.baseError.Is(target)
}

// ValidationError is an invalid request, plan or dispatch. It is the one
// class that aborts a turn, and it matches ErrInvalidInput.
type ValidationError struct {
	baseError
	Field string
	Value any
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: newBase(message, nil, SeverityWarning, true)}
}

func (e *ValidationError) WithField(field string) *ValidationError { e.Field = field; return e }
func (e *ValidationError) WithValue(value any) *ValidationError    { e.Value = value; return e }
func (e *ValidationError) WithCause(cause error) *ValidationError  { e.cause = cause; return e }

func (e *ValidationError) Error() string {
	var value string
	if e.Value != nil {
		value = fmt.Sprint(e.Value)
	}
	return render("validation error", []string{"field", e.Field, "value", value}, e.message, e.cause)
}

func (e *ValidationError) Is(target error) bool {
	return sameClass[*ValidationError](target) || target == ErrInvalidInput || e.baseError.Is(target)
}

// TimeoutError is an operation that ran past its deadline. Timeouts are
// retryable unless marked otherwise, and they match ErrTimeout.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	base := newBase(operation, nil, SeverityWarning, true)
	base.retryable = true
	return &TimeoutError{baseError: base, Operation: operation, Duration: duration}
}

func (e *TimeoutError) WithCause(cause error) *TimeoutError { e.cause = cause; return e }
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError  { e.retryable = r; return e }

func (e *TimeoutError) Error() string {
	return render("timeout error", nil, fmt.Sprintf("%s (timeout: %s)", e.Operation, e.Duration), e.cause)
}

func (e *TimeoutError) Is(target error) bool {
	return sameClass[*TimeoutError](target) || target == ErrTimeout || e.baseError.Is(target)
}
