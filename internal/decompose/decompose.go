// Package decompose turns a user query into a plan of worker tasks.
package decompose

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/relay/internal/checkpoint"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/task"
)

// PlanningPromptTemplate asks the model for a JSON plan. The verbs are, in
// order: conversation history, the query, available workers.
const PlanningPromptTemplate = `You are an expert query analyzer. Break the user's query into distinct, actionable tasks and assign each task to the worker best equipped to handle it.

## Conversation History
%s

## Current Query
%s

## Available Workers
%s

## Instructions

1. Read the query in the context of the conversation history; follow-up questions refer to earlier messages
2. Create one task per independent piece of work; a simple query needs a single task
3. Assign every task to exactly one worker from the list above, using its name verbatim
4. If nothing fits a specialised worker, assign "general"

## Output

Return only a JSON object, with no text before or after it:
{
  "summary": "one sentence describing what the user wants",
  "tasks": [
    {
      "task_id": "task_001",
      "priority": 1,
      "description": "what the worker must do, self-contained",
      "expected_output": "what a successful answer contains",
      "dependent_task_ids": [],
      "assigned_worker": "worker name"
    }
  ]
}

Task IDs must be unique. Lower priority numbers are presented first.`

// Catalog lists the workers a plan may use.
type Catalog interface {
	Describe() []registry.Info
}

// LLMDecomposer asks a language model for the plan.
type LLMDecomposer struct {
	llm     llm.Completer
	catalog Catalog
	logger  *logging.Logger
}

// NewLLM creates an LLMDecomposer. logger may be nil.
func NewLLM(c llm.Completer, catalog Catalog, logger *logging.Logger) *LLMDecomposer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LLMDecomposer{llm: c, catalog: catalog, logger: logger}
}

// Decompose implements orchestrator.Decomposer.
func (d *LLMDecomposer) Decompose(ctx context.Context, req orchestrator.Request, history checkpoint.History) (*task.Plan, error) {
	workers := availableWorkers(d.catalog)
	if len(workers) == 0 {
		return nil, errors.NewValidationError("no workers are available").WithField("workers")
	}

	prompt := BuildPrompt(req.Query, history, workers)
	raw, err := d.llm.Complete(ctx, []llm.Message{llm.System(prompt), llm.User(req.Query)})
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	plan, err := task.ParseJSON([]byte(raw))
	if err != nil {
		d.logger.Warn("unparseable plan", "response", truncate(raw, 200))
		return nil, err
	}
	Normalize(plan)
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	d.logger.Debug("plan decomposed", "summary", plan.Summary, "task_ids", task.IDs(plan.Tasks))
	return plan, nil
}

// BuildPrompt renders PlanningPromptTemplate.
func BuildPrompt(query string, history checkpoint.History, workers []registry.Info) string {
	return fmt.Sprintf(PlanningPromptTemplate, FormatHistory(history), query, formatWorkers(workers))
}

// FormatHistory renders history one message per line, or "(none)".
func FormatHistory(h checkpoint.History) string {
	if h.Empty() {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range h.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatWorkers(workers []registry.Info) string {
	var b strings.Builder
	for _, w := range workers {
		fmt.Fprintf(&b, "- %s: %s\n", w.Name, w.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func availableWorkers(c Catalog) []registry.Info {
	var out []registry.Info
	for _, info := range c.Describe() {
		if info.Available {
			out = append(out, info)
		}
	}
	return out
}

// Normalize fills in what models commonly leave out: missing task IDs
// become task_NNN, worker names are trimmed and lowercased, and a missing
// summary falls back to the first task's description.
func Normalize(p *task.Plan) {
	if p == nil {
		return
	}
	for i := range p.Tasks {
		t := &p.Tasks[i]
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			t.ID = fmt.Sprintf("task_%03d", i+1)
		}
		t.AssignedWorker = strings.ToLower(strings.TrimSpace(t.AssignedWorker))
	}
	if strings.TrimSpace(p.Summary) == "" && len(p.Tasks) > 0 {
		p.Summary = p.Tasks[0].Description
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
