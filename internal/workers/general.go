package workers

import (
	"context"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

const generalSystemPrompt = "You are a friendly and helpful general-purpose assistant. " +
	"You answer queries that do not fall into specialized categories. " +
	"You are given a task and a description of the expected output; reply with a direct and clear answer."

// General answers with a plain language model call.
type General struct {
	llm llm.Completer
}

// NewGeneral creates the general worker.
func NewGeneral(c llm.Completer) *General {
	return &General{llm: c}
}

// Handle implements registry.Handler.
func (g *General) Handle(ctx context.Context, t task.Task, pub stream.Publisher) (task.Completed, error) {
	if g.llm == nil {
		return task.Completed{}, errors.NewWorkerError("no language model configured", nil).WithWorker(config.WorkerGeneral)
	}
	pub.PublishProgress(ctx, "Thinking about the question", stream.TaskSource(config.WorkerGeneral, t.ID), 10)

	out, err := g.llm.Complete(ctx, []llm.Message{
		llm.System(generalSystemPrompt),
		llm.User(taskPrompt(t)),
	})
	if err != nil {
		return task.Completed{}, err
	}
	return respond(ctx, pub, config.WorkerGeneral, t, out)
}
