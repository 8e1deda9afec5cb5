package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/relay/internal/checkpoint"
	"github.com/Iron-Ham/relay/internal/dispatch"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/state"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

// turn holds the working state of one Stream call. Only the run goroutine
// touches it, apart from the observer callbacks, which the dispatcher
// serializes.
type turn struct {
	o     *Orchestrator
	id    string
	req   Request
	log   *logging.Logger
	store *state.Store
	start time.Time

	pub       stream.Publisher
	lifecycle chan<- event.Event

	history  checkpoint.History
	plan     *task.Plan
	pending  chan dispatched
	outcome  *dispatch.Result
	errs     []state.ErrorRecord
	final    string
	fallback bool
}

type dispatched struct {
	res *dispatch.Result
	err error
}

func (o *Orchestrator) newTurn(req Request) *turn {
	id := uuid.NewString()
	return &turn{
		o:     o,
		id:    id,
		req:   req,
		log:   o.logger.WithThread(req.ThreadID).WithTurn(id),
		store: state.NewStore(),
		start: time.Now(),
	}
}

// emit publishes ev on the process bus and hands it to the multiplexer.
func (t *turn) emit(ctx context.Context, ev event.Event) {
	if t.o.events != nil {
		t.o.events.Publish(ev)
	}
	if t.lifecycle == nil {
		return
	}
	select {
	case t.lifecycle <- ev:
		return
	default:
	}
	select {
	case t.lifecycle <- ev:
	case <-ctx.Done():
		t.log.Debug("lifecycle event dropped", "event", ev.EventType())
	}
}

// run interprets commands until the turn is done or fails.
func (t *turn) run(ctx context.Context) (*Result, error) {
	t.emit(ctx, event.NewTurnStartedEvent(t.id, t.req.ThreadID, t.req.Query))
	t.log.Info("turn started")

	var cmd Command = Advance{To: StepLoadHistory}
	for {
		t.log.Debug("turn command", "command", fmt.Sprint(cmd))

		switch c := cmd.(type) {
		case Advance:
			if c.To == StepDone {
				res := t.result()
				t.log.Info("turn completed",
					"duration_ms", res.Duration.Milliseconds(),
					"fallback", res.Fallback,
				)
				return res, nil
			}
			cmd = t.step(ctx, c.To)
		case Dispatch:
			cmd = t.dispatch(ctx, c.Plan)
		case Wait:
			cmd = t.wait(ctx)
		case Fail:
			t.log.Warn("turn failed", "class", errors.Class(c.Err), "error", c.Err.Error())
			return nil, c.Err
		default:
			panic(fmt.Sprintf("orchestrator: unhandled command %T", cmd))
		}
	}
}

func (t *turn) step(ctx context.Context, s Step) Command {
	switch s {
	case StepLoadHistory:
		t.loadHistory(ctx)
		return Advance{To: StepDecompose}
	case StepDecompose:
		return t.decompose(ctx)
	case StepAggregate:
		return t.aggregate(ctx)
	case StepSave:
		t.save(ctx)
		return Advance{To: StepDone}
	default:
		return Fail{Err: fmt.Errorf("orchestrator: no handler for step %s", s)}
	}
}

// loadHistory never fails the turn: an unreadable thread starts empty.
func (t *turn) loadHistory(ctx context.Context) {
	h, err := t.o.checkpoints.Load(ctx, t.req.ThreadID)
	if err != nil {
		t.log.Warn("load history failed, starting empty", "error", err.Error())
		h = checkpoint.History{ThreadID: t.req.ThreadID}
	}
	t.history = h
	t.log.Debug("history loaded", "messages", len(h.Messages))
}

// window returns the slice of history collaborators get to see.
func (t *turn) window() checkpoint.History {
	h := t.history
	h.Messages = h.Last(t.o.historyWindow)
	return h
}

func (t *turn) decompose(ctx context.Context) Command {
	plan, err := t.o.decomposer.Decompose(ctx, t.req, t.window())
	if err != nil {
		if ctx.Err() != nil {
			return Fail{Err: interrupted(ctx)}
		}
		if !errors.IsValidation(err) {
			err = errors.NewValidationError("decomposition failed").WithCause(err)
		}
		return Fail{Err: err}
	}
	if err := plan.Validate(); err != nil {
		return Fail{Err: err}
	}
	// Check worker assignments before anything is dispatched so a bad plan
	// leaves the turn idle.
	if err := t.o.dispatcher.Validate(plan.Tasks); err != nil {
		return Fail{Err: err}
	}

	t.plan = plan
	t.log.Info("query decomposed", "summary", plan.Summary, "tasks", len(plan.Tasks))
	return Dispatch{Plan: plan}
}

func (t *turn) dispatch(ctx context.Context, plan *task.Plan) Command {
	t.pending = make(chan dispatched, 1)
	obs := &observer{t: t, ctx: ctx}
	go func() {
		res, err := t.o.dispatcher.Dispatch(ctx, plan.Tasks, t.store, t.pub, obs)
		t.pending <- dispatched{res: res, err: err}
	}()
	return Wait{}
}

func (t *turn) wait(ctx context.Context) Command {
	select {
	case d := <-t.pending:
		if d.err != nil {
			return Fail{Err: d.err}
		}
		t.outcome = d.res
		t.errs = append(t.errs, d.res.Errors...)
		return Advance{To: StepAggregate}
	case <-ctx.Done():
		// Dispatch returns promptly once ctx is done. Waiting for it means
		// no observer callback outlives the turn.
		<-t.pending
		return Fail{Err: interrupted(ctx)}
	}
}

// aggregate recovers every synthesis failure with FallbackAnswer.
func (t *turn) aggregate(ctx context.Context) Command {
	in := SynthesisInput{
		Query:      t.req.Query,
		Summary:    t.plan.Summary,
		Dispatched: t.outcome.Dispatched,
		Completed:  t.outcome.Completed,
		History:    t.window(),
	}

	answer, err := t.o.synthesizer.Synthesize(ctx, in)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("synthesizer returned an empty answer")
	}
	if err != nil {
		if ctx.Err() != nil {
			return Fail{Err: interrupted(ctx)}
		}
		aggErr := errors.NewAggregationError("final synthesis failed", err).WithThreadID(t.req.ThreadID)
		t.log.Error("aggregation failed, using fallback answer", "error", aggErr.Error())
		t.errs = append(t.errs, state.ErrorRecord{
			Node:      "aggregate",
			Class:     errors.Class(aggErr),
			Message:   aggErr.Error(),
			Timestamp: time.Now().UTC(),
		})
		answer = FallbackAnswer
		t.fallback = true
	}

	t.final = answer
	t.emit(ctx, event.NewAggregationCompletedEvent(t.id, t.fallback))
	return Advance{To: StepSave}
}

// save appends the exchange to the thread. A failed save is logged; the
// answer has already been produced.
func (t *turn) save(ctx context.Context) {
	now := time.Now().UTC()
	h := t.history.Append(
		checkpoint.Message{Role: checkpoint.RoleUser, Content: t.req.Query, Timestamp: now},
		checkpoint.Message{Role: checkpoint.RoleAssistant, Content: t.final, Timestamp: now},
	)
	if err := t.o.checkpoints.Save(ctx, t.req.ThreadID, h); err != nil {
		t.log.Warn("save history failed", "error", err.Error())
		return
	}
	t.history = h
}

func (t *turn) result() *Result {
	return &Result{
		ThreadID:    t.req.ThreadID,
		TurnID:      t.id,
		Summary:     t.plan.Summary,
		FinalOutput: t.final,
		Completed:   slices.Clone(t.outcome.Completed),
		Errors:      slices.Clone(t.errs),
		Fallback:    t.fallback,
		Duration:    time.Since(t.start),
	}
}

func interrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("turn: %w: %w", errors.ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("turn: %w: %w", errors.ErrCanceled, ctx.Err())
}

// observer turns dispatcher progress into lifecycle events.
type observer struct {
	t   *turn
	ctx context.Context
}

func (o *observer) TasksDispatched(tasks []task.Task) {
	summary := make([]event.DispatchedTask, len(tasks))
	for i, tk := range tasks {
		summary[i] = event.DispatchedTask{TaskID: tk.ID, Worker: tk.AssignedWorker, Priority: tk.Priority}
	}
	o.t.emit(o.ctx, event.NewTasksDispatchedEvent(o.t.id, o.t.plan.Summary, summary))
}

func (o *observer) TaskCompleted(c task.Completed) {
	o.t.emit(o.ctx, event.NewTaskCompletedEvent(o.t.id, c.TaskID, c.SourceWorker, c.Status.String(), c.Attempts))
}

func (o *observer) BarrierFired(s state.State) {
	o.t.emit(o.ctx, event.NewBarrierFiredEvent(o.t.id, len(s.CompletedTasks), s.Failed()))
}
