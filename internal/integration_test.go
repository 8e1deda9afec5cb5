// Package internal contains integration tests that run whole turns through
// the real packages wired together: registry, dispatch, orchestrator and a
// durable checkpoint tier.
package internal

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/relay/internal/checkpoint"
	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/decompose"
	"github.com/Iron-Ham/relay/internal/dispatch"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/synth"
	"github.com/Iron-Ham/relay/internal/task"
	"github.com/Iron-Ham/relay/internal/workers"
)

type eventCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *eventCounter) handle(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[e.EventType()]++
}

func (c *eventCounter) get(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[eventType]
}

func newOfflineOrchestrator(t *testing.T, store checkpoint.Store, bus *event.Bus) *orchestrator.Orchestrator {
	t.Helper()

	cfg := config.Default()
	reg := registry.New()
	if err := workers.RegisterDefaults(reg, workers.Deps{}, cfg); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}

	plan := &task.Plan{
		Summary: "arithmetic for {query}",
		Tasks: []task.Task{
			{ID: "t1", Description: "compute {query}", AssignedWorker: config.WorkerMath},
		},
	}

	disp := dispatch.New(reg,
		dispatch.WithTimeout(2*time.Second),
		dispatch.WithRetryPolicy(dispatch.NoRetry()),
	)
	return orchestrator.New(decompose.NewStatic(plan), synth.Concat{}, disp,
		orchestrator.WithCheckpoints(store),
		orchestrator.WithEventBus(bus),
		orchestrator.WithPacer(stream.Pacer{ChunkSize: 16}),
	)
}

// TestTurnsPersistAcrossRestart runs two turns on one thread against a
// SQLite store, reopens the store and checks the conversation survived.
func TestTurnsPersistAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.sqlite")

	store, err := checkpoint.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}

	bus := event.NewBus()
	counter := &eventCounter{counts: make(map[string]int)}
	bus.SubscribeAll(counter.handle)

	orch := newOfflineOrchestrator(t, store, bus)

	queries := []struct {
		query string
		want  string
	}{
		{"2+3", "2+3 = 5"},
		{"10/4", "10/4 = 2.5"},
	}
	for _, q := range queries {
		res, err := orch.Run(ctx, orchestrator.Request{ThreadID: "th_integration", Query: q.query})
		if err != nil {
			t.Fatalf("Run(%q) error = %v", q.query, err)
		}
		if res.FinalOutput != q.want {
			t.Errorf("Run(%q).FinalOutput = %q, want %q", q.query, res.FinalOutput, q.want)
		}
		if len(res.Errors) != 0 {
			t.Errorf("Run(%q).Errors = %+v", q.query, res.Errors)
		}
	}

	for _, eventType := range []string{
		event.TypeTurnStarted,
		event.TypeTasksDispatched,
		event.TypeTaskCompleted,
		event.TypeBarrierFired,
		event.TypeAggregationDone,
		event.TypeTurnCompleted,
	} {
		if got := counter.get(eventType); got != 2 {
			t.Errorf("%s published %d times, want 2", eventType, got)
		}
	}
	if got := counter.get(event.TypeTurnFailed); got != 0 {
		t.Errorf("turn.failed published %d times", got)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := checkpoint.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	h, err := reopened.Load(ctx, "th_integration")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(h.Messages) != 4 {
		t.Fatalf("history has %d messages, want 4", len(h.Messages))
	}
	if h.Messages[0].Role != checkpoint.RoleUser || h.Messages[0].Content != "2+3" {
		t.Errorf("first message = %+v", h.Messages[0])
	}
	if h.Messages[3].Content != "10/4 = 2.5" {
		t.Errorf("last message = %+v", h.Messages[3])
	}
}

// TestDisabledWorkerFailsTurn checks that a plan naming an unavailable
// worker is rejected before anything is dispatched.
func TestDisabledWorkerFailsTurn(t *testing.T) {
	bus := event.NewBus()
	counter := &eventCounter{counts: make(map[string]int)}
	bus.SubscribeAll(counter.handle)

	cfg := config.Default()
	cfg.Workers[config.WorkerMath] = config.WorkerConfig{Enabled: false}
	reg := registry.New()
	if err := workers.RegisterDefaults(reg, workers.Deps{}, cfg); err != nil {
		t.Fatal(err)
	}
	plan := &task.Plan{
		Summary: "arithmetic",
		Tasks:   []task.Task{{ID: "t1", Description: "compute {query}", AssignedWorker: config.WorkerMath}},
	}
	orch := orchestrator.New(decompose.NewStatic(plan), synth.Concat{}, dispatch.New(reg),
		orchestrator.WithEventBus(bus),
	)

	_, err := orch.Run(context.Background(), orchestrator.Request{ThreadID: "th_disabled", Query: "1+1"})
	if err == nil {
		t.Fatal("Run() should fail when the assigned worker is unavailable")
	}
	if !strings.Contains(err.Error(), config.WorkerMath) {
		t.Errorf("error = %v, want it to name the worker", err)
	}
	if got := counter.get(event.TypeTasksDispatched); got != 0 {
		t.Errorf("tasks.dispatched published %d times, want 0", got)
	}
	if got := counter.get(event.TypeTurnFailed); got != 1 {
		t.Errorf("turn.failed published %d times, want 1", got)
	}
}
