// Package dispatch fans a turn's tasks out to workers and merges their
// results into the turn's state.
//
// Validation is all-or-nothing: a bad plan is rejected with a
// ValidationError before any worker runs, and the turn stays idle. Once
// tasks are dispatched, every invocation runs on its own goroutine behind
// a [Boundary], so a failing, slow or panicking worker yields an error
// completion instead of aborting its siblings. Each completion is merged
// through the state store as it arrives; Dispatch returns when the
// completion barrier fires.
package dispatch

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/state"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

// Observer receives dispatch progress. Calls are serialized and arrive in
// merge order: TasksDispatched first, one TaskCompleted per task, then
// BarrierFired. Implementations must not block for long.
type Observer interface {
	TasksDispatched(tasks []task.Task)
	TaskCompleted(c task.Completed)
	BarrierFired(s state.State)
}

type nopObserver struct{}

func (nopObserver) TasksDispatched([]task.Task)  {}
func (nopObserver) TaskCompleted(task.Completed) {}
func (nopObserver) BarrierFired(state.State)     {}

// Result is what a finished dispatch hands to aggregation.
type Result struct {
	// Dispatched holds the tasks in dispatch order.
	Dispatched []task.Task
	// Completed holds one record per dispatched task.
	Completed []task.Completed
	// Errors is the turn's error log.
	Errors []state.ErrorRecord
	// Exhausted holds the sorted IDs of tasks that failed every attempt
	// the retry policy allowed.
	Exhausted []string
}

// Failed counts error completions.
func (r *Result) Failed() int {
	n := 0
	for _, c := range r.Completed {
		if c.Status.IsError() {
			n++
		}
	}
	return n
}

// Dispatcher validates task lists and runs them against a worker registry.
// A Dispatcher is safe for concurrent use by multiple turns.
type Dispatcher struct {
	registry *registry.Registry
	boundary *Boundary
	timeout  time.Duration
	policy   RetryPolicy
	sem      *semaphore.Weighted
	logger   *logging.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each worker invocation.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		dp.timeout = d
	}
}

// WithMaxParallel caps how many invocations run at once across all turns
// sharing this Dispatcher. Zero or less means no cap.
func WithMaxParallel(n int) Option {
	return func(dp *Dispatcher) {
		if n > 0 {
			dp.sem = semaphore.NewWeighted(int64(n))
		} else {
			dp.sem = nil
		}
	}
}

// WithRetryPolicy sets how failed invocations are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(dp *Dispatcher) {
		dp.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(dp *Dispatcher) {
		if l != nil {
			dp.logger = l
		}
	}
}

// New creates a Dispatcher over reg.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		timeout:  60 * time.Second,
		policy:   NoRetry(),
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.boundary = NewBoundary(d.timeout, d.logger)
	return d
}

// Validate checks a task list without running it. It returns a
// *errors.ValidationError describing the first problem found.
func (d *Dispatcher) Validate(tasks []task.Task) error {
	_, err := d.resolve(tasks)
	return err
}

func (d *Dispatcher) resolve(tasks []task.Task) (map[string]registry.Info, error) {
	if len(tasks) == 0 {
		return nil, errors.NewValidationError("no tasks to dispatch").
			WithField("tasks").
			WithCause(errors.ErrEmptyPlan)
	}

	seen := make(map[string]bool, len(tasks))
	workers := make(map[string]registry.Info)
	for i, t := range tasks {
		if strings.TrimSpace(t.ID) == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("task %d has no id", i)).
				WithField("task_id")
		}
		if seen[t.ID] {
			return nil, errors.NewValidationError("duplicate task id").
				WithField("task_id").
				WithValue(t.ID).
				WithCause(errors.ErrDuplicateTask)
		}
		seen[t.ID] = true

		info, err := d.registry.Resolve(t.AssignedWorker)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("task %s cannot be assigned", t.ID)).
				WithField("assigned_worker").
				WithValue(t.AssignedWorker).
				WithCause(err)
		}
		workers[t.ID] = info
	}
	return workers, nil
}

// Dispatch validates tasks, moves store into the dispatching phase and
// invokes every task concurrently. It returns once every task has a
// completion, or with a cancellation error when ctx ends first; in that
// case store is frozen and late results are dropped.
//
// store must be fresh (idle). pub receives the workers' stream events and
// one result or error event per task. obs may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []task.Task, store *state.Store, pub stream.Publisher, obs Observer) (*Result, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	if pub == nil {
		pub = &stream.Discard{}
	}
	if phase := store.Phase(); phase != state.PhaseIdle {
		return nil, errors.NewValidationError("turn already dispatched").
			WithField("phase").
			WithValue(phase.String())
	}

	workers, err := d.resolve(tasks)
	if err != nil {
		return nil, err
	}

	ordered := slices.Clone(tasks)
	slices.SortStableFunc(ordered, func(a, b task.Task) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	// Serializes merges with their notifications so observers see them
	// in merge order.
	var notifyMu sync.Mutex

	notifyMu.Lock()
	if _, err := store.Apply(state.Dispatched(ordered)); err != nil {
		notifyMu.Unlock()
		return nil, errors.Wrap(err, "dispatch")
	}
	obs.TasksDispatched(slices.Clone(ordered))
	notifyMu.Unlock()

	d.logger.Info("tasks dispatched", "count", len(ordered), "task_ids", task.IDs(ordered))

	tracker := NewRetryTracker()
	for _, t := range ordered {
		go d.run(ctx, workers[t.ID], t, store, pub, obs, tracker, &notifyMu)
	}

	select {
	case <-store.Done():
		// The goroutine that fired holds notifyMu until its observer
		// calls return.
		notifyMu.Lock()
		snap := store.Snapshot()
		notifyMu.Unlock()

		exhausted := tracker.Failed()
		slices.Sort(exhausted)
		d.logger.Info("completion barrier fired",
			"completed", len(snap.CompletedTasks),
			"failed", snap.Failed(),
			"exhausted", exhausted,
		)
		return &Result{
			Dispatched: snap.DispatchedTasks,
			Completed:  snap.CompletedTasks,
			Errors:     snap.Errors,
			Exhausted:  exhausted,
		}, nil

	case <-ctx.Done():
		// Taking notifyMu waits out an observer call already in progress;
		// after Freeze no further merges or notifications happen.
		notifyMu.Lock()
		store.Freeze()
		notifyMu.Unlock()
		pending := store.Snapshot().Pending()
		d.logger.Warn("dispatch cancelled", "pending", pending, "error", ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("dispatch: %w: %w", errors.ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("dispatch: %w: %w", errors.ErrCanceled, ctx.Err())
	}
}

// run invokes one task, retrying retryable failures, and merges the final
// outcome.
func (d *Dispatcher) run(
	ctx context.Context,
	info registry.Info,
	t task.Task,
	store *state.Store,
	pub stream.Publisher,
	obs Observer,
	tracker *RetryTracker,
	notifyMu *sync.Mutex,
) {
	log := d.logger.WithWorker(info.Name).With("task_id", t.ID)
	source := stream.TaskSource(info.Name, t.ID)

	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			log.Debug("dispatch slot not acquired", "error", err)
			return
		}
		defer d.sem.Release(1)
	}

	tracker.Track(t.ID, d.policy.MaxRetries)
	var out Outcome
	for attempt := 1; ; attempt++ {
		out = d.boundary.Invoke(ctx, info, t, pub)
		tracker.RecordAttempt(t.ID, out.Err)
		if !out.Failed() {
			break
		}

		retry := errors.IsRetryable(out.Err) && tracker.ShouldRetry(t.ID) && ctx.Err() == nil
		if !retry {
			break
		}
		delay := d.policy.Backoff(attempt)
		log.Warn("worker attempt failed, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"error", out.Err.Error(),
		)
		if !sleep(ctx, delay) {
			break
		}
		// The next attempt streams its thoughts again; mark where it starts.
		pub.PublishProgress(ctx, fmt.Sprintf("attempt %d failed (%s), retrying as attempt %d", attempt, out.Record.Class, attempt+1), source, 0)
	}

	if ctx.Err() != nil {
		log.Debug("turn cancelled, dropping result", "error", ctx.Err())
		return
	}
	if rs, ok := tracker.State(t.ID); ok {
		out.Completed.Attempts = rs.Attempts()
	}

	var records []state.ErrorRecord
	if out.Failed() {
		records = append(records, *out.Record)
		log.Warn("worker failed",
			"attempts", out.Completed.Attempts,
			"class", out.Record.Class,
			"error", out.Err.Error(),
		)
		pub.PublishError(ctx, out.Completed.Output, source, out.Record.Class)
	} else {
		log.Debug("worker completed",
			"attempts", out.Completed.Attempts,
			"duration", out.Completed.Duration.String(),
		)
		pub.PublishResult(ctx, source, t.ID, out.Completed.Output)
	}

	notifyMu.Lock()
	defer notifyMu.Unlock()

	// Checked under notifyMu: Dispatch freezes the store under the same
	// lock, so nothing merges once cancellation has been observed here.
	if ctx.Err() != nil {
		log.Debug("turn cancelled, dropping result", "error", ctx.Err())
		return
	}

	fired, err := store.Apply(state.Completion(out.Completed, records...))
	if err != nil {
		log.Debug("completion discarded", "error", err)
		return
	}
	obs.TaskCompleted(out.Completed)
	if fired {
		obs.BarrierFired(store.Snapshot())
	}
}

// sleep waits for d or until ctx ends, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
