// Package synth writes a turn's final answer from its completed tasks.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/task"
)

// AggregationPromptTemplate is filled with the user's question and the
// rendered task results.
const AggregationPromptTemplate = `You are a helpful assistant. The user asked a question and you have gathered the information needed to answer it.

## User's Question
%s

## Available Information
%s

## Instructions

1. Answer the question directly and naturally, as a single assistant
2. Use the information above; ignore parts that are plainly error messages
3. Do not mention tasks, workers or any internal process
4. For greetings and small talk, reply briefly without over-explaining

Respond to the user now:`

// NoInformation replaces the task list when nothing completed.
const NoInformation = "No additional information available."

// LLMSynthesizer asks a language model for the final answer.
type LLMSynthesizer struct {
	llm llm.Completer
}

// NewLLM creates an LLMSynthesizer.
func NewLLM(c llm.Completer) *LLMSynthesizer {
	return &LLMSynthesizer{llm: c}
}

// Synthesize implements orchestrator.Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, in orchestrator.SynthesisInput) (string, error) {
	messages := make([]llm.Message, 0, len(in.History.Messages)+1)
	for _, m := range in.History.Messages {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.User(BuildPrompt(in)))
	return s.llm.Complete(ctx, messages)
}

// BuildPrompt renders AggregationPromptTemplate. Each completed task is
// described with the task it answered, looked up among the dispatched
// tasks by ID.
func BuildPrompt(in orchestrator.SynthesisInput) string {
	return fmt.Sprintf(AggregationPromptTemplate, in.Query, FormatResults(in.Dispatched, in.Completed))
}

// FormatResults renders one block per completed task, in completion order.
func FormatResults(dispatched []task.Task, completed []task.Completed) string {
	if len(completed) == 0 {
		return NoInformation
	}
	byID := make(map[string]task.Task, len(dispatched))
	for _, t := range dispatched {
		byID[t.ID] = t
	}

	blocks := make([]string, 0, len(completed))
	for _, c := range completed {
		description := "Task ID: " + c.TaskID
		expected := "Not specified"
		if t, ok := byID[c.TaskID]; ok {
			description = t.Description
			if t.ExpectedOutput != "" {
				expected = t.ExpectedOutput
			}
		}
		output := c.Output
		if output == "" {
			output = "No response provided"
		}
		blocks = append(blocks, fmt.Sprintf(
			"Task: %s\nExpected Output: %s\nWorker: %s\nStatus: %s\nResponse: %s",
			description, expected, c.SourceWorker, c.Status, output,
		))
	}
	return strings.Join(blocks, "\n\n")
}

// Concat answers without a language model by joining the successful
// outputs in completion order. An empty result makes the turn fall back
// to its apology.
type Concat struct{}

// Synthesize implements orchestrator.Synthesizer.
func (Concat) Synthesize(_ context.Context, in orchestrator.SynthesisInput) (string, error) {
	var parts []string
	for _, c := range in.Completed {
		if c.Status.IsError() || strings.TrimSpace(c.Output) == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(c.Output))
	}
	return strings.Join(parts, "\n\n"), nil
}
