package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/task"
)

// recordingPublisher keeps what workers stream.
type recordingPublisher struct {
	mu       sync.Mutex
	thoughts map[string]string
	progress []string
}

func newRecorder() *recordingPublisher {
	return &recordingPublisher{thoughts: map[string]string{}}
}

func (r *recordingPublisher) PublishThought(context.Context, string, string, int)     {}
func (r *recordingPublisher) PublishThoughtComplete(context.Context, string, int, int) {}
func (r *recordingPublisher) PublishError(context.Context, string, string, string)     {}
func (r *recordingPublisher) PublishResult(context.Context, string, string, string)    {}

func (r *recordingPublisher) PublishProgress(_ context.Context, content, _ string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, content)
}

func (r *recordingPublisher) StreamThought(_ context.Context, source, text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thoughts[source] += text
	return len([]rune(text))
}

// scriptedLLM returns out and remembers the last conversation.
type scriptedLLM struct {
	out  string
	err  error
	last []llm.Message
}

func (s *scriptedLLM) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	s.last = msgs
	return s.out, s.err
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2+2", "4"},
		{"2 + 3 * (4 / 2)", "8"},
		{"7 / 2", "3.5"},
		{"1/3", "0.333333333333"},
		{"-3 * -3", "9"},
		{"2 ** 10", "1024"},
		{"2^-1", "0.5"},
		{"17 % 5", "2"},
		{"6 × 7", "42"},
		{"9 ÷ 3", "3"},
		{"123456789 * 987654321", "121932631112635269"},
	}
	for _, tt := range tests {
		got, err := Calculate(tt.expr)
		if err != nil {
			t.Errorf("Calculate(%q) error = %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Calculate(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestCalculate_Errors(t *testing.T) {
	for _, expr := range []string{"", "1/0", "5 % 0", "2 ** 0.5", "2 ** 5000", "foo + 1", "\"a\" + 1", "1.5 % 2", "(1"} {
		if got, err := Calculate(expr); err == nil {
			t.Errorf("Calculate(%q) = %q, want error", expr, got)
		}
	}
}

func TestCalculate_BoundsValueSize(t *testing.T) {
	huge := strings.Repeat("9", 1300)
	for _, expr := range []string{
		"99^1024^1024",
		"99^1024^1024^2",
		"(2^1024)^4",
		"((2^1000)^4) * ((2^1000)^4)",
		"1 / ((2^1000)^4) / ((2^1000)^4)",
		huge,
		huge + " - 1",
	} {
		if _, err := Calculate(expr); err == nil || !strings.Contains(err.Error(), "bits") {
			t.Errorf("Calculate(%.40q) error = %v, want size error", expr, err)
		}
	}

	got, err := Calculate("((2^1000)^4) * (2^95)")
	if err != nil {
		t.Fatalf("Calculate(2^4095) = %v", err)
	}
	if len(got) != 1233 {
		t.Errorf("2^4095 has %d digits, want 1233", len(got))
	}
}

func TestExtractExpression(t *testing.T) {
	tests := map[string]string{
		"compute 2+2":                        "2+2",
		"What is (3 + 4) * 2?":               "(3 + 4) * 2",
		"Calculate '2 + 3 * (4 / 2)' please": "2 + 3 * (4 / 2)",
		"tell me a joke":                     "",
		"the year 2024":                      "",
	}
	for in, want := range tests {
		if got := ExtractExpression(in); got != want {
			t.Errorf("ExtractExpression(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMath_WithoutModelUsesCalculator(t *testing.T) {
	pub := newRecorder()
	tk := task.Task{ID: "t1", Description: "compute 2+2", AssignedWorker: "math"}

	c, err := NewMath(nil).Handle(context.Background(), tk, pub)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != task.StatusSuccess || c.Output != "2+2 = 4" {
		t.Errorf("completion = %+v", c)
	}
	if pub.thoughts["math:t1"] != "2+2 = 4" {
		t.Errorf("streamed %q", pub.thoughts["math:t1"])
	}

	_, err = NewMath(nil).Handle(context.Background(), task.Task{ID: "t2", Description: "prove Fermat"}, pub)
	var werr *errors.WorkerError
	if !errors.As(err, &werr) {
		t.Errorf("error = %v, want WorkerError", err)
	}
}

func TestMath_GivesModelTheCalculatorResult(t *testing.T) {
	model := &scriptedLLM{out: "4"}
	tk := task.Task{ID: "t1", Description: "compute 2+2", ExpectedOutput: "a number", AssignedWorker: "math"}

	c, err := NewMath(model).Handle(context.Background(), tk, newRecorder())
	if err != nil {
		t.Fatal(err)
	}
	if c.Output != "4" {
		t.Errorf("Output = %q", c.Output)
	}
	prompt := model.last[1].Content
	if !strings.Contains(prompt, "Calculator: 2+2 = 4") || !strings.Contains(prompt, "Expected Output: a number") {
		t.Errorf("prompt = %q", prompt)
	}
}

func TestGeneral(t *testing.T) {
	model := &scriptedLLM{out: "Hello!"}
	pub := newRecorder()
	c, err := NewGeneral(model).Handle(context.Background(), task.Task{ID: "t1", Description: "greet", AssignedWorker: "general"}, pub)
	if err != nil {
		t.Fatal(err)
	}
	if c.Output != "Hello!" || c.SourceWorker != "general" {
		t.Errorf("completion = %+v", c)
	}
	if pub.thoughts["general:t1"] != "Hello!" || len(pub.progress) != 1 {
		t.Errorf("thoughts = %v, progress = %v", pub.thoughts, pub.progress)
	}
	if model.last[0].Role != llm.RoleSystem {
		t.Errorf("first message role = %s", model.last[0].Role)
	}

	model.err = errors.NewWorkerError("llm returned 503", nil).WithRetryable(true)
	if _, err := NewGeneral(model).Handle(context.Background(), task.Task{ID: "t2"}, pub); !errors.IsRetryable(err) {
		t.Errorf("error = %v, want the model's retryable error", err)
	}
}

func newTavilyServer(t *testing.T, status int, body any) (*TavilyClient, *tavilyRequest) {
	t.Helper()
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return NewTavily("tvly-test").WithBaseURL(srv.URL), &got
}

func TestWeb(t *testing.T) {
	client, req := newTavilyServer(t, http.StatusOK, SearchResponse{
		Answer: "Sunny, 21C",
		Results: []SearchResult{
			{Title: "Forecast", URL: "https://weather.example/today", Content: "Sunny with highs of 21C"},
		},
	})
	model := &scriptedLLM{out: "It is sunny and 21C."}

	c, err := NewWeb(client, model, 3).Handle(context.Background(),
		task.Task{ID: "t2", Description: "weather in Paris today", AssignedWorker: "web"}, newRecorder())
	if err != nil {
		t.Fatal(err)
	}
	if c.Output != "It is sunny and 21C." {
		t.Errorf("Output = %q", c.Output)
	}
	if req.Query != "weather in Paris today" || req.MaxResults != 3 || req.APIKey != "tvly-test" {
		t.Errorf("search request = %+v", *req)
	}
	if !strings.Contains(model.last[1].Content, "1. Forecast (https://weather.example/today)") {
		t.Errorf("prompt = %q", model.last[1].Content)
	}
}

func TestWeb_SearchFailures(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		client, _ := newTavilyServer(t, tt.status, map[string]string{"detail": "nope"})
		_, err := NewWeb(client, &scriptedLLM{out: "x"}, 0).Handle(context.Background(), task.Task{ID: "t"}, newRecorder())
		if err == nil {
			t.Fatalf("status %d: expected an error", tt.status)
		}
		if errors.IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v", tt.status, errors.IsRetryable(err))
		}
	}
}

func TestNewTavily_EmptyKey(t *testing.T) {
	if c := NewTavily("  "); c != nil {
		t.Errorf("NewTavily(blank) = %v, want nil", c)
	}
}

func TestFormatSearchResults(t *testing.T) {
	if got := FormatSearchResults(nil); got != "(no results)" {
		t.Errorf("nil = %q", got)
	}
	if got := FormatSearchResults(&SearchResponse{}); got != "(no results)" {
		t.Errorf("empty = %q", got)
	}
}

func TestRegisterDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Workers[config.WorkerGeneral] = config.WorkerConfig{Enabled: false}

	reg := registry.New()
	err := RegisterDefaults(reg, Deps{LLM: &scriptedLLM{out: "x"}}, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if reg.Len() != 3 {
		t.Fatalf("registered %d workers, want 3", reg.Len())
	}
	// general is disabled by config, web has no search client.
	if got := reg.ListAvailable(); len(got) != 1 || got[0] != config.WorkerMath {
		t.Errorf("ListAvailable() = %v, want [math]", got)
	}
	info, _ := reg.Get(config.WorkerWeb)
	if info.Description != WebDescription {
		t.Errorf("web description = %q", info.Description)
	}

	if err := RegisterDefaults(reg, Deps{}, cfg); err == nil {
		t.Error("registering the defaults twice should fail")
	}
}
