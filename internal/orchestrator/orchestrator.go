// Package orchestrator runs conversation turns: load history, decompose the
// query into tasks, dispatch them to workers, aggregate the results into
// one answer, and save the exchange.
//
// Each step returns a [Command] and a single control loop interprets it, so
// the turn's control flow is one switch over Dispatch, Wait, Advance and
// Fail. Worker stream events and the turn's lifecycle events are
// multiplexed into one channel exposed by [TurnStream].
package orchestrator

import (
	"context"
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

// FallbackAnswer replaces the final answer when aggregation fails.
const FallbackAnswer = "I apologize, but I encountered an error while generating the final response. Please try again."

// Request is one user turn.
type Request struct {
	// ThreadID continues an existing conversation. Empty starts a new one.
	ThreadID string
	Query    string
}

// Decomposer turns a request into a plan of worker tasks.
type Decomposer interface {
	Decompose(ctx context.Context, req Request, history checkpoint.History) (*task.Plan, error)
}

// SynthesisInput is everything aggregation sees.
type SynthesisInput struct {
	Query      string
	Summary    string
	Dispatched []task.Task
	Completed  []task.Completed
	History    checkpoint.History
}

// Synthesizer writes the final answer from the completed tasks.
type Synthesizer interface {
	Synthesize(ctx context.Context, in SynthesisInput) (string, error)
}

// Result is the outcome of a completed turn.
type Result struct {
	ThreadID    string              `json:"thread_id"`
	TurnID      string              `json:"turn_id"`
	Summary     string              `json:"summary"`
	FinalOutput string              `json:"final_output"`
	Completed   []task.Completed    `json:"completed"`
	Errors      []state.ErrorRecord `json:"errors"`
	Fallback    bool                `json:"fallback,omitempty"`
	Duration    time.Duration       `json:"duration_ns"`
}

// Orchestrator runs turns. It is safe for concurrent use; every turn gets
// its own state store and stream queue.
type Orchestrator struct {
	decomposer     Decomposer
	synthesizer    Synthesizer
	dispatcher     *dispatch.Dispatcher
	checkpoints    checkpoint.Store
	streams        *stream.Bus
	events         *event.Bus
	pacer          stream.Pacer
	consumeTimeout time.Duration
	historyWindow  int
	logger         *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCheckpoints sets the history store. The default is in memory.
func WithCheckpoints(s checkpoint.Store) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.checkpoints = s
		}
	}
}

// WithStreamBus sets the bus turn queues are created on.
func WithStreamBus(b *stream.Bus) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.streams = b
		}
	}
}

// WithEventBus sets the process bus lifecycle events are also published on.
func WithEventBus(b *event.Bus) Option {
	return func(o *Orchestrator) {
		o.events = b
	}
}

// WithPacer sets the thought pacing handed to workers.
func WithPacer(p stream.Pacer) Option {
	return func(o *Orchestrator) {
		o.pacer = p
	}
}

// WithConsumeTimeout bounds each queue poll of the multiplexer.
func WithConsumeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.consumeTimeout = d
		}
	}
}

// WithHistoryWindow limits how many past messages decomposition and
// synthesis see. Zero means all of them.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		o.historyWindow = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(dec Decomposer, syn Synthesizer, disp *dispatch.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		decomposer:     dec,
		synthesizer:    syn,
		dispatcher:     disp,
		checkpoints:    checkpoint.NewMemoryStore(),
		streams:        stream.NewBus(),
		pacer:          stream.DefaultPacer(),
		consumeTimeout: time.Second,
		historyWindow:  20,
		logger:         logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Checkpoints returns the history store.
func (o *Orchestrator) Checkpoints() checkpoint.Store { return o.checkpoints }

// Streams returns the stream bus.
func (o *Orchestrator) Streams() *stream.Bus { return o.streams }

// NewThreadID returns a fresh thread ID of the form th_<10 hex>.
func NewThreadID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "th_" + id[:10]
}

// TurnStream is a running turn.
type TurnStream struct {
	ThreadID string
	TurnID   string

	events <-chan stream.Envelope
	done   chan struct{}
	result *Result
	err    error
}

// Events yields the turn's multiplexed worker and lifecycle events. The
// channel closes once both sources are finished. Callers must drain it or
// cancel the turn's context.
func (s *TurnStream) Events() <-chan stream.Envelope { return s.events }

// Done is closed when the turn has finished.
func (s *TurnStream) Done() <-chan struct{} { return s.done }

// Wait blocks until the turn finishes and returns its result.
func (s *TurnStream) Wait() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// Stream starts a turn and returns immediately. Only a ValidationError or
// a cancellation is returned from Wait; every other failure is recovered
// inside the turn.
func (o *Orchestrator) Stream(ctx context.Context, req Request) (*TurnStream, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.NewValidationError("query is required").WithField("query")
	}
	if req.ThreadID == "" {
		req.ThreadID = NewThreadID()
	}

	t := o.newTurn(req)
	queueID := o.streams.Create(req.ThreadID)
	queue, _ := o.streams.Get(queueID)
	t.pub = stream.NewPublisher(o.streams, queueID,
		stream.WithPacer(o.pacer),
		stream.WithPublisherLogger(t.log),
	)

	lifecycle := make(chan event.Event, 64)
	t.lifecycle = lifecycle
	mux := stream.Multiplex(ctx, queue, lifecycle, o.consumeTimeout)

	events := make(chan stream.Envelope)
	ts := &TurnStream{
		ThreadID: req.ThreadID,
		TurnID:   t.id,
		events:   events,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(events)
		defer o.streams.Destroy(queueID)
		for env := range mux {
			select {
			case events <- env:
			case <-ctx.Done():
				// Keep draining so the multiplexer can exit.
			}
		}
	}()

	go func() {
		defer close(ts.done)
		ts.result, ts.err = t.run(ctx)
		if ts.err != nil {
			t.emit(ctx, event.NewTurnFailedEvent(t.id, errors.Class(ts.err), ts.err.Error()))
		} else {
			t.emit(ctx, event.NewTurnCompletedEvent(t.id, req.ThreadID, ts.result.Duration))
		}
		close(lifecycle)
		if err := o.streams.Seal(queueID); err != nil {
			t.log.Debug("seal stream queue", "error", err.Error())
		}
	}()

	return ts, nil
}

// Run executes a turn to completion, discarding its stream events.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ts, err := o.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	for range ts.Events() {
	}
	return ts.Wait()
}
