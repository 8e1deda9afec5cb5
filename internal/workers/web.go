package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

const webSystemPrompt = `You answer questions from web search results.
Use only the results you are given, prefer the most recent information, and cite source URLs inline where they support a claim.
If the results do not answer the task, say so plainly.`

// Web answers from a web search summarized by a language model.
type Web struct {
	search     Searcher
	llm        llm.Completer
	maxResults int
}

// NewWeb creates the web worker.
func NewWeb(s Searcher, c llm.Completer, maxResults int) *Web {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Web{search: s, llm: c, maxResults: maxResults}
}

// Handle implements registry.Handler.
func (w *Web) Handle(ctx context.Context, t task.Task, pub stream.Publisher) (task.Completed, error) {
	if w.search == nil || w.llm == nil {
		return task.Completed{}, errors.NewWorkerError("web search is not configured", nil).WithWorker(config.WorkerWeb)
	}

	pub.PublishProgress(ctx, "Searching the web", stream.TaskSource(config.WorkerWeb, t.ID), 10)
	res, err := w.search.Search(ctx, t.Description, w.maxResults)
	if err != nil {
		return task.Completed{}, err
	}
	pub.PublishProgress(ctx, fmt.Sprintf("Reading %d results", len(res.Results)), stream.TaskSource(config.WorkerWeb, t.ID), 50)

	prompt := taskPrompt(t) + "\n\nSearch Results:\n" + FormatSearchResults(res)
	out, err := w.llm.Complete(ctx, []llm.Message{llm.System(webSystemPrompt), llm.User(prompt)})
	if err != nil {
		return task.Completed{}, err
	}
	return respond(ctx, pub, config.WorkerWeb, t, out)
}

// FormatSearchResults renders results as a numbered list for a prompt.
func FormatSearchResults(res *SearchResponse) string {
	if res == nil || (len(res.Results) == 0 && res.Answer == "") {
		return "(no results)"
	}
	var b strings.Builder
	if res.Answer != "" {
		fmt.Fprintf(&b, "Summary: %s\n", res.Answer)
	}
	for i, r := range res.Results {
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, r.Title, r.URL, r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
