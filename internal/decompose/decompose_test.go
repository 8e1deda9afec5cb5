package decompose

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/relay/internal/checkpoint"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

type fakeCatalog []registry.Info

func (c fakeCatalog) Describe() []registry.Info { return c }

var nopHandler = registry.HandlerFunc(func(_ context.Context, t task.Task, _ stream.Publisher) (task.Completed, error) {
	return task.Success(t, ""), nil
})

func catalog() fakeCatalog {
	return fakeCatalog{
		{Name: "general", Description: "answers anything", Available: true, Handler: nopHandler},
		{Name: "math", Description: "does arithmetic", Available: true, Handler: nopHandler},
		{Name: "web", Description: "searches the web", Available: false, Handler: nopHandler},
	}
}

func reply(s string) llm.CompleterFunc {
	return func(context.Context, []llm.Message) (string, error) { return s, nil }
}

func TestLLMDecomposer(t *testing.T) {
	var prompt string
	c := llm.CompleterFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
		prompt = msgs[0].Content
		return "```json\n" + `{"summary":"add numbers","tasks":[{"task_id":"t1","priority":1,"description":"compute 2+2","assigned_worker":" Math "}]}` + "\n```", nil
	})
	d := NewLLM(c, catalog(), nil)

	history := checkpoint.History{Messages: []checkpoint.Message{
		{Role: checkpoint.RoleUser, Content: "hello"},
		{Role: checkpoint.RoleAssistant, Content: "hi there"},
	}}
	plan, err := d.Decompose(context.Background(), orchestrator.Request{Query: "what is 2+2?"}, history)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}

	if plan.Summary != "add numbers" || len(plan.Tasks) != 1 {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.Tasks[0].AssignedWorker != "math" {
		t.Errorf("AssignedWorker = %q, want normalized %q", plan.Tasks[0].AssignedWorker, "math")
	}

	for _, want := range []string{"what is 2+2?", "- math: does arithmetic", "user: hello", "assistant: hi there"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "searches the web") {
		t.Error("prompt lists an unavailable worker")
	}
}

func TestLLMDecomposer_Errors(t *testing.T) {
	tests := []struct {
		name       string
		c          llm.Completer
		catalog    fakeCatalog
		validation bool
	}{
		{"not json", reply("I think you want math."), catalog(), true},
		{"no tasks", reply(`{"summary":"nothing","tasks":[]}`), catalog(), true},
		{"no workers available", reply(`{}`), fakeCatalog{{Name: "web", Available: false}}, true},
		{"model failure", llm.CompleterFunc(func(context.Context, []llm.Message) (string, error) {
			return "", errors.NewWorkerError("llm returned 503", nil).WithRetryable(true)
		}), catalog(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewLLM(tt.c, tt.catalog, nil)
			_, err := d.Decompose(context.Background(), orchestrator.Request{Query: "q"}, checkpoint.History{})
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.IsValidation(err) != tt.validation {
				t.Errorf("IsValidation(%v) = %v, want %v", err, errors.IsValidation(err), tt.validation)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	p := &task.Plan{Tasks: []task.Task{
		{Description: "first", AssignedWorker: "GENERAL"},
		{ID: " keep ", AssignedWorker: "math"},
	}}
	Normalize(p)

	if p.Tasks[0].ID != "task_001" || p.Tasks[0].AssignedWorker != "general" {
		t.Errorf("task 0 = %+v", p.Tasks[0])
	}
	if p.Tasks[1].ID != "keep" {
		t.Errorf("task 1 ID = %q", p.Tasks[1].ID)
	}
	if p.Summary != "first" {
		t.Errorf("Summary = %q", p.Summary)
	}

	Normalize(nil)
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(checkpoint.History{}); got != "(none)" {
		t.Errorf("empty history = %q", got)
	}
}

func TestStaticDecomposer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	yaml := `summary: "answer {query}"
tasks:
  - task_id: t1
    priority: 1
    description: "compute {query}"
    assigned_worker: math
  - task_id: t2
    priority: 2
    description: "explain the result"
    assigned_worker: general
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	d, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("LoadStatic() error = %v", err)
	}
	plan, err := d.Decompose(context.Background(), orchestrator.Request{Query: "2+2"}, checkpoint.History{})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Summary != "answer 2+2" || plan.Tasks[0].Description != "compute 2+2" {
		t.Errorf("placeholders not substituted: %+v", plan)
	}

	// Each call gets a fresh copy.
	plan.Tasks[0].Description = "mutated"
	again, _ := d.Decompose(context.Background(), orchestrator.Request{Query: "3+3"}, checkpoint.History{})
	if again.Tasks[0].Description != "compute 3+3" {
		t.Errorf("static plan was mutated: %q", again.Tasks[0].Description)
	}
}

func TestLoadStatic_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte("summary: empty\ntasks: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStatic(path); !errors.IsValidation(err) {
		t.Errorf("LoadStatic() error = %v, want ValidationError", err)
	}
	if _, err := LoadStatic(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
