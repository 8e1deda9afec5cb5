package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/state"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

// failurePrefix starts the Output of every error completion.
const failurePrefix = "An unexpected error occurred: "

// Outcome is the contained result of one worker invocation. Completed is
// always usable; Err and Record are set only when the invocation failed.
type Outcome struct {
	Completed task.Completed
	Err       error
	Record    *state.ErrorRecord
}

// Failed reports whether the invocation failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// Boundary runs worker handlers so that no failure escapes: errors,
// timeouts and panics all become error completions.
type Boundary struct {
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// NewBoundary creates a Boundary. A zero timeout leaves invocations bounded
// only by the caller's context.
func NewBoundary(timeout time.Duration, logger *logging.Logger) *Boundary {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Boundary{timeout: timeout, logger: logger, now: time.Now}
}

type handlerResult struct {
	completed task.Completed
	err       error
}

// Invoke runs info's handler for t once.
//
// The handler runs on its own goroutine. If it ignores cancellation and
// outlives the timeout, Invoke returns a timeout outcome without waiting
// for it; whatever the handler returns later is discarded.
func (b *Boundary) Invoke(ctx context.Context, info registry.Info, t task.Task, pub stream.Publisher) Outcome {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if b.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
	}
	defer cancel()

	start := b.now()
	results := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("worker panicked",
					"worker", info.Name,
					"task_id", t.ID,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				results <- handlerResult{err: fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)}
			}
		}()
		c, err := info.Handler.Handle(callCtx, t, pub)
		results <- handlerResult{completed: c, err: err}
	}()

	var res handlerResult
	select {
	case res = <-results:
	case <-callCtx.Done():
		// Prefer a result that raced with the deadline.
		select {
		case res = <-results:
		default:
			res = handlerResult{err: callCtx.Err()}
		}
	}

	out := b.contain(ctx, info, t, res)
	out.Completed.Duration = b.now().Sub(start)
	return out
}

// contain normalizes a handler result into an Outcome.
func (b *Boundary) contain(ctx context.Context, info registry.Info, t task.Task, res handlerResult) Outcome {
	if res.err == nil && !res.completed.Status.IsError() {
		c := res.completed
		c.TaskID = t.ID
		c.SourceWorker = info.Name
		c.Status = task.StatusSuccess
		return Outcome{Completed: c}
	}

	err := b.classify(ctx, info, t, res)
	rec := &state.ErrorRecord{
		Node:      "worker." + info.Name,
		Worker:    info.Name,
		TaskID:    t.ID,
		Class:     errors.Class(err),
		Message:   err.Error(),
		Timestamp: b.now(),
	}
	c := task.Failure(t, failurePrefix+summary(err))
	c.SourceWorker = info.Name
	return Outcome{Completed: c, Err: err, Record: rec}
}

// classify turns whatever went wrong into a typed error.
func (b *Boundary) classify(ctx context.Context, info registry.Info, t task.Task, res handlerResult) error {
	err := res.err
	switch {
	case err == nil:
		// The handler reported failure through the record itself.
		msg := res.completed.Output
		if msg == "" {
			msg = "worker reported an error"
		}
		return errors.NewWorkerError(msg, nil).WithWorker(info.Name).WithTaskID(t.ID)

	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", errors.ErrCanceled, ctx.Err())

	case errors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError("invoking worker "+info.Name, b.timeout).WithCause(err)

	case errors.Is(err, errors.ErrWorkerPanic):
		return errors.NewWorkerError("recovered from panic", err).
			WithWorker(info.Name).
			WithTaskID(t.ID).
			WithSeverity(errors.SeverityCritical)
	}

	var relayErr errors.RelayError
	if errors.As(err, &relayErr) {
		return err
	}
	return errors.NewWorkerError("worker failed", err).WithWorker(info.Name).WithTaskID(t.ID)
}

// summary returns the human-readable part of err for error completions.
func summary(err error) string {
	var timeout *errors.TimeoutError
	if errors.As(err, &timeout) {
		return fmt.Sprintf("%s timed out after %s", timeout.Operation, timeout.Duration)
	}
	var msg interface{ Message() string }
	if errors.As(err, &msg) {
		if cause := errors.Unwrap(err); cause != nil && msg.Message() != cause.Error() {
			return msg.Message() + ": " + cause.Error()
		}
		return msg.Message()
	}
	return err.Error()
}
