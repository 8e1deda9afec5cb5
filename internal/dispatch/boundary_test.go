package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

func info(name string, h registry.Handler) registry.Info {
	return registry.Info{Name: name, Available: true, Handler: h}
}

func TestBoundary_Success(t *testing.T) {
	b := NewBoundary(time.Second, nil)
	tk := task.Task{ID: "t1", AssignedWorker: "math"}

	out := b.Invoke(context.Background(), info("math", answer("4")), tk, &stream.Discard{})
	if out.Failed() || out.Record != nil {
		t.Fatalf("Invoke() = %+v", out)
	}
	if out.Completed.TaskID != "t1" || out.Completed.Output != "4" || out.Completed.Status != task.StatusSuccess {
		t.Errorf("Completed = %+v", out.Completed)
	}
}

func TestBoundary_NormalizesHandlerRecord(t *testing.T) {
	b := NewBoundary(time.Second, nil)
	h := registry.HandlerFunc(func(context.Context, task.Task, stream.Publisher) (task.Completed, error) {
		return task.Completed{TaskID: "wrong", Output: "42"}, nil
	})

	out := b.Invoke(context.Background(), info("math", h), task.Task{ID: "t1"}, &stream.Discard{})
	if out.Completed.TaskID != "t1" || out.Completed.SourceWorker != "math" || out.Completed.Status != task.StatusSuccess {
		t.Errorf("Completed = %+v", out.Completed)
	}
}

func TestBoundary_Failures(t *testing.T) {
	tests := []struct {
		name      string
		handler   registry.HandlerFunc
		wantClass string
		wantText  string
	}{
		{
			name:      "error",
			handler:   fail(errors.New("search backend down")),
			wantClass: "worker",
			wantText:  "search backend down",
		},
		{
			name: "panic",
			handler: func(context.Context, task.Task, stream.Publisher) (task.Completed, error) {
				panic("nil map")
			},
			wantClass: "worker",
			wantText:  "worker panicked",
		},
		{
			name:      "timeout",
			handler:   hang(),
			wantClass: "timeout",
			wantText:  "timed out",
		},
		{
			name: "error status without error",
			handler: func(_ context.Context, tk task.Task, _ stream.Publisher) (task.Completed, error) {
				return task.Failure(tk, "could not parse"), nil
			},
			wantClass: "worker",
			wantText:  "could not parse",
		},
		{
			name:      "typed error kept",
			handler:   fail(errors.NewValidationError("bad expression")),
			wantClass: "validation",
			wantText:  "bad expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBoundary(30*time.Millisecond, nil)
			out := b.Invoke(context.Background(), info("web", tt.handler), task.Task{ID: "t2", AssignedWorker: "web"}, &stream.Discard{})

			if !out.Failed() || out.Record == nil {
				t.Fatalf("Invoke() = %+v, want failure", out)
			}
			if out.Completed.Status != task.StatusError || out.Completed.TaskID != "t2" {
				t.Errorf("Completed = %+v", out.Completed)
			}
			if !strings.HasPrefix(out.Completed.Output, failurePrefix) || !strings.Contains(out.Completed.Output, tt.wantText) {
				t.Errorf("Output = %q, want text %q", out.Completed.Output, tt.wantText)
			}
			if out.Record.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", out.Record.Class, tt.wantClass)
			}
			if out.Record.Worker != "web" || out.Record.TaskID != "t2" || out.Record.Timestamp.IsZero() {
				t.Errorf("Record = %+v", out.Record)
			}
		})
	}
}

func TestBoundary_HandlerIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := registry.HandlerFunc(func(_ context.Context, tk task.Task, _ stream.Publisher) (task.Completed, error) {
		<-release
		return task.Success(tk, "late"), nil
	})

	b := NewBoundary(20*time.Millisecond, nil)
	start := time.Now()
	out := b.Invoke(context.Background(), info("web", h), task.Task{ID: "t"}, &stream.Discard{})

	if time.Since(start) > time.Second {
		t.Fatal("Invoke waited for a handler that ignores cancellation")
	}
	if !errors.Is(out.Err, errors.ErrTimeout) || !errors.IsRetryable(out.Err) {
		t.Errorf("Err = %v, want retryable timeout", out.Err)
	}
}

func TestBoundary_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewBoundary(time.Second, nil).Invoke(ctx, info("web", hang()), task.Task{ID: "t"}, &stream.Discard{})
	if !errors.Is(out.Err, errors.ErrCanceled) || errors.IsRetryable(out.Err) {
		t.Errorf("Err = %v, want non-retryable ErrCanceled", out.Err)
	}
	if out.Record.Class != "canceled" {
		t.Errorf("Class = %q", out.Record.Class)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{10, 350 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
	if NoRetry().Backoff(1) != 0 {
		t.Error("NoRetry should not wait")
	}
	if d := DefaultRetryPolicy(); d.Backoff(1) != 2*time.Second || d.Backoff(2) != 4*time.Second || d.Backoff(3) != 8*time.Second {
		t.Errorf("DefaultRetryPolicy backoff = %s %s %s", d.Backoff(1), d.Backoff(2), d.Backoff(3))
	}
}

func TestRetryTracker(t *testing.T) {
	m := NewRetryTracker()
	m.Track("t1", 1)
	m.Track("t1", 5)

	if m.ShouldRetry("t1") {
		t.Error("no attempt recorded yet")
	}
	m.RecordAttempt("t1", errors.New("boom"))
	if !m.ShouldRetry("t1") {
		t.Error("one retry left")
	}
	m.RecordAttempt("t1", errors.New("boom again"))
	if m.ShouldRetry("t1") {
		t.Error("retries exhausted")
	}

	s, ok := m.State("t1")
	if !ok || s.Failures != 2 || s.MaxRetries != 1 || s.LastError != "boom again" || s.Attempts() != 2 {
		t.Errorf("State = %+v", s)
	}
	if failed := m.Failed(); len(failed) != 1 || failed[0] != "t1" {
		t.Errorf("Failed() = %v", failed)
	}

	m.Track("t2", 3)
	m.RecordAttempt("t2", nil)
	if m.ShouldRetry("t2") {
		t.Error("succeeded tasks are not retried")
	}
	if s, _ := m.State("t2"); s.Attempts() != 1 {
		t.Errorf("Attempts() = %d", s.Attempts())
	}
	if m.ShouldRetry("unknown") {
		t.Error("untracked tasks are not retried")
	}
}
