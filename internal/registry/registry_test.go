package registry

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

func echo(out string) HandlerFunc {
	return func(_ context.Context, t task.Task, _ stream.Publisher) (task.Completed, error) {
		return task.Success(t, out), nil
	}
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r := New(opts...)
	for _, name := range []string{"general", "math", "web"} {
		if err := r.Register(name, name+" worker", true, echo(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	return r
}

func TestRegister(t *testing.T) {
	r := New()

	if err := r.Register("Math", "arithmetic", true, echo("4")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	info, ok := r.Get("math")
	if !ok || info.Name != "math" || info.Description != "arithmetic" || !info.Available {
		t.Errorf("Get(math) = %+v, %v", info, ok)
	}

	tests := []struct {
		name    string
		worker  string
		handler Handler
	}{
		{"duplicate", "MATH", echo("x")},
		{"empty name", "  ", echo("x")},
		{"nil handler", "other", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.worker, "", true, tt.handler)
			if !errors.IsValidation(err) {
				t.Errorf("Register() error = %v, want ValidationError", err)
			}
		})
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t)
	_ = r.SetAvailable("web", false)

	if _, err := r.Resolve("math"); err != nil {
		t.Errorf("Resolve(math) = %v", err)
	}
	if _, err := r.Resolve("nonexistent"); !errors.Is(err, errors.ErrUnknownWorker) {
		t.Errorf("Resolve(nonexistent) = %v, want ErrUnknownWorker", err)
	}
	if _, err := r.Resolve("web"); !errors.Is(err, errors.ErrWorkerUnavailable) {
		t.Errorf("Resolve(web) = %v, want ErrWorkerUnavailable", err)
	}
}

func TestListAvailableAndDescribe(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.SetAvailable("general", false); err != nil {
		t.Fatal(err)
	}

	if got := r.ListAvailable(); !slices.Equal(got, []string{"math", "web"}) {
		t.Errorf("ListAvailable() = %v", got)
	}

	desc := r.Describe()
	if len(desc) != 3 || desc[0].Name != "general" || desc[0].Available {
		t.Errorf("Describe() = %+v", desc)
	}
}

func TestSetAvailable_Unknown(t *testing.T) {
	r := newTestRegistry(t)
	var nf *errors.NotFoundError
	if err := r.SetAvailable("nope", true); !errors.As(err, &nf) {
		t.Errorf("SetAvailable(nope) = %v, want NotFoundError", err)
	}
}

func TestSetAvailableMatching(t *testing.T) {
	var changes []string
	r := newTestRegistry(t, WithOnChange(func(name string, available bool) {
		if !available {
			changes = append(changes, name)
		}
	}))

	n, err := r.SetAvailableMatching("{math,web}", false)
	if err != nil || n != 2 {
		t.Fatalf("SetAvailableMatching() = %d, %v", n, err)
	}
	if got := r.ListAvailable(); !slices.Equal(got, []string{"general"}) {
		t.Errorf("ListAvailable() = %v", got)
	}
	if !slices.Equal(changes, []string{"math", "web"}) {
		t.Errorf("onChange calls = %v", changes)
	}

	// Matching workers that already have the requested state is not a change.
	changes = nil
	if n, _ := r.SetAvailableMatching("m*", false); n != 1 || len(changes) != 0 {
		t.Errorf("repeat toggle: n=%d changes=%v", n, changes)
	}

	if _, err := r.SetAvailableMatching("zzz*", true); err == nil {
		t.Error("pattern matching nothing should fail")
	}
	if _, err := r.SetAvailableMatching("[", true); !errors.IsValidation(err) {
		t.Errorf("bad pattern = %v, want ValidationError", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := newTestRegistry(t)
	before, _ := r.Get("web")

	_ = r.SetAvailable("web", false)

	if !before.Available {
		t.Error("descriptors read before a write must not change")
	}
	after, _ := r.Get("web")
	if after.Available {
		t.Error("write was not published")
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.SetAvailable("web", (i+j)%2 == 0)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.ListAvailable()
				_, _ = r.Get("web")
			}
		}()
	}
	wg.Wait()

	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestHandlerFunc(t *testing.T) {
	h := echo("4")
	got, err := h.Handle(context.Background(), task.Task{ID: "t1", AssignedWorker: "math"}, &stream.Discard{})
	if err != nil || got.Output != "4" || got.SourceWorker != "math" {
		t.Errorf("Handle() = %+v, %v", got, err)
	}
}

func TestMatch(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.Match("*")
	if err != nil || !slices.Equal(got, []string{"general", "math", "web"}) {
		t.Errorf("Match(*) = %v, %v", got, err)
	}
	if got, _ := r.Match("W*"); !slices.Equal(got, []string{"web"}) {
		t.Errorf("Match(W*) = %v", got)
	}
	if _, err := r.Match("nothing"); err == nil {
		t.Error("pattern matching nothing should fail")
	}
	if _, err := r.Match("["); !errors.IsValidation(err) {
		t.Errorf("bad pattern = %v, want ValidationError", err)
	}
}
