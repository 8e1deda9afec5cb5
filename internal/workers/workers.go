// Package workers provides the built-in workers: general, math and web.
//
// Every worker streams its answer to the client as thoughts before
// returning it, so a client sees the answer forming while the turn waits
// for its slowest task.
package workers

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

// Worker descriptions shown to the decomposer.
const (
	GeneralDescription = "Answers queries that do not fall into the specific domain of another worker, by asking a language model directly."
	MathDescription    = "Specializes in mathematical computations, algebraic problem-solving, and quantitative analysis."
	WebDescription     = "Handles web interactions including online data retrieval and internet research, for anything that needs up-to-date information."
)

// Deps are the collaborators the built-in workers need.
type Deps struct {
	LLM    llm.Completer
	Search Searcher
	Logger *logging.Logger
}

// Usable reports, per built-in worker, whether deps carry what it needs.
// A worker that is enabled but not usable is registered unavailable.
func Usable(deps Deps) map[string]bool {
	return map[string]bool{
		config.WorkerGeneral: deps.LLM != nil,
		config.WorkerMath:    true,
		config.WorkerWeb:     deps.Search != nil && deps.LLM != nil,
	}
}

// RegisterDefaults registers general, math and web on reg, each available
// according to cfg.Workers. The web worker is registered unavailable when
// no search client is configured.
func RegisterDefaults(reg *registry.Registry, deps Deps, cfg *config.Config) error {
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}

	usable := Usable(deps)
	defaults := []struct {
		name        string
		description string
		handler     registry.Handler
	}{
		{config.WorkerGeneral, GeneralDescription, NewGeneral(deps.LLM)},
		{config.WorkerMath, MathDescription, NewMath(deps.LLM)},
		{config.WorkerWeb, WebDescription, NewWeb(deps.Search, deps.LLM, cfg.Search.MaxResults)},
	}

	for _, d := range defaults {
		available := cfg.WorkerEnabled(d.name) && usable[d.name]
		if err := reg.Register(d.name, d.description, available, d.handler); err != nil {
			return fmt.Errorf("register %s worker: %w", d.name, err)
		}
		if cfg.WorkerEnabled(d.name) && !usable[d.name] {
			deps.Logger.Warn("worker enabled but not configured, registering as unavailable", "worker", d.name)
		}
	}
	return nil
}

// respond streams text as the worker's thought and returns it as the
// task's successful output.
func respond(ctx context.Context, pub stream.Publisher, name string, t task.Task, text string) (task.Completed, error) {
	pub.StreamThought(ctx, stream.TaskSource(name, t.ID), text)
	if err := ctx.Err(); err != nil {
		return task.Completed{}, err
	}
	return task.Success(t, text), nil
}

// taskPrompt is the user message every LLM-backed worker sends.
func taskPrompt(t task.Task) string {
	expected := t.ExpectedOutput
	if expected == "" {
		expected = "A direct, clear answer."
	}
	return fmt.Sprintf("Task Description: %s\n\nExpected Output: %s", t.Description, expected)
}
