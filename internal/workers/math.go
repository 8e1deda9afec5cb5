package workers

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

const mathSystemPrompt = `You are a math expert. Solve the problem you are given and state the result clearly.
When a calculator result is provided, trust it over mental arithmetic.

Example:
Task Description: Calculate the result of the expression '2 + 3 * (4 / 2)'
Calculator: 2 + 3 * (4 / 2) = 8
Answer: The result of the expression '2 + 3 * (4 / 2)' is 8.`

// Math solves quantitative tasks. Arithmetic found in the task is
// evaluated exactly and handed to the model as a calculator result; with
// no model configured the calculator result is the answer.
type Math struct {
	llm llm.Completer
}

// NewMath creates the math worker. c may be nil.
func NewMath(c llm.Completer) *Math {
	return &Math{llm: c}
}

// Handle implements registry.Handler.
func (m *Math) Handle(ctx context.Context, t task.Task, pub stream.Publisher) (task.Completed, error) {
	var calc string
	if expr := ExtractExpression(t.Description); expr != "" {
		if v, err := Calculate(expr); err == nil {
			calc = fmt.Sprintf("%s = %s", expr, v)
			pub.PublishProgress(ctx, "Calculated "+calc, stream.TaskSource(config.WorkerMath, t.ID), 50)
		}
	}

	if m.llm == nil {
		if calc == "" {
			return task.Completed{}, errors.NewWorkerError("no arithmetic expression found and no language model configured", nil).
				WithWorker(config.WorkerMath).
				WithTaskID(t.ID)
		}
		return respond(ctx, pub, config.WorkerMath, t, calc)
	}

	prompt := taskPrompt(t)
	if calc != "" {
		prompt += "\n\nCalculator: " + calc
	}
	out, err := m.llm.Complete(ctx, []llm.Message{llm.System(mathSystemPrompt), llm.User(prompt)})
	if err != nil {
		return task.Completed{}, err
	}
	return respond(ctx, pub, config.WorkerMath, t, out)
}
