// Package registry holds the set of workers a turn may dispatch to.
//
// The registry is an explicitly constructed service. Reads go through an
// immutable snapshot published with an atomic pointer, so a turn can look
// workers up without taking a lock while an operator toggles availability.
// Writes copy the snapshot, modify the copy and publish it.
package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
)

// Handler runs one task. Implementations may publish progress through pub
// and must honor ctx cancellation. A returned error is converted into an
// error completion by the dispatcher; it never aborts sibling tasks.
type Handler interface {
	Handle(ctx context.Context, t task.Task, pub stream.Publisher) (task.Completed, error)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(ctx context.Context, t task.Task, pub stream.Publisher) (task.Completed, error)

// Handle calls f(ctx, t, pub).
func (f HandlerFunc) Handle(ctx context.Context, t task.Task, pub stream.Publisher) (task.Completed, error) {
	return f(ctx, t, pub)
}

// Info describes one registered worker.
type Info struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Available   bool    `json:"available"`
	Handler     Handler `json:"-"`
}

type snapshot map[string]Info

// Registry maps worker names to their descriptors.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]

	// onChange, when set, is called after an availability change is published.
	onChange func(name string, available bool)
}

// Option configures a Registry.
type Option func(*Registry)

// WithOnChange registers a callback invoked after every availability change.
func WithOnChange(fn func(name string, available bool)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{}
	empty := snapshot{}
	r.current.Store(&empty)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) load() snapshot {
	return *r.current.Load()
}

// update copies the current snapshot, applies fn and publishes the result.
func (r *Registry) update(fn func(next snapshot) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.load()
	next := make(snapshot, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	r.current.Store(&next)
	return nil
}

// Register adds a worker. Names are case-insensitive and must be unique.
func (r *Registry) Register(name, description string, available bool, h Handler) error {
	key := normalize(name)
	if key == "" {
		return errors.NewValidationError("worker name is required").WithField("name")
	}
	if h == nil {
		return errors.NewValidationError("worker handler is required").WithField("handler").WithValue(key)
	}
	return r.update(func(next snapshot) error {
		if _, exists := next[key]; exists {
			return errors.NewValidationError("worker already registered").WithField("name").WithValue(key)
		}
		next[key] = Info{Name: key, Description: description, Available: available, Handler: h}
		return nil
	})
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Info, bool) {
	info, ok := r.load()[normalize(name)]
	return info, ok
}

// Resolve returns the descriptor for name if it is registered and
// available. The error wraps ErrUnknownWorker or ErrWorkerUnavailable.
func (r *Registry) Resolve(name string) (Info, error) {
	info, ok := r.Get(name)
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", errors.ErrUnknownWorker, name)
	}
	if !info.Available {
		return Info{}, fmt.Errorf("%w: %q", errors.ErrWorkerUnavailable, name)
	}
	return info, nil
}

// ListAvailable returns the names of available workers, sorted.
func (r *Registry) ListAvailable() []string {
	var names []string
	for name, info := range r.load() {
		if info.Available {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Describe returns every registered worker, sorted by name.
func (r *Registry) Describe() []Info {
	snap := r.load()
	out := make([]Info, 0, len(snap))
	for _, info := range snap {
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	return len(r.load())
}

// SetAvailable toggles one worker. Turns already running keep the
// snapshot they validated against.
func (r *Registry) SetAvailable(name string, available bool) error {
	key := normalize(name)
	var changed bool
	err := r.update(func(next snapshot) error {
		info, ok := next[key]
		if !ok {
			return errors.NewNotFoundError("worker", key)
		}
		changed = info.Available != available
		info.Available = available
		next[key] = info
		return nil
	})
	if err == nil && changed && r.onChange != nil {
		r.onChange(key, available)
	}
	return err
}

// Match returns the sorted names of workers matching a glob pattern.
func (r *Registry) Match(pattern string) ([]string, error) {
	g, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	var names []string
	for name := range r.load() {
		if g.Match(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, errors.NewNotFoundError("worker", pattern)
	}
	slices.Sort(names)
	return names, nil
}

func compilePattern(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(normalize(pattern))
	if err != nil {
		return nil, errors.NewValidationError("invalid worker pattern").WithField("pattern").WithValue(pattern).WithCause(err)
	}
	return g, nil
}

// SetAvailableMatching toggles every worker whose name matches a glob
// pattern such as "w*" or "{math,web}". It returns the number of workers
// matched.
func (r *Registry) SetAvailableMatching(pattern string, available bool) (int, error) {
	g, err := compilePattern(pattern)
	if err != nil {
		return 0, err
	}

	var matched int
	var changed []string
	err = r.update(func(next snapshot) error {
		for name, info := range next {
			if !g.Match(name) {
				continue
			}
			matched++
			if info.Available != available {
				info.Available = available
				next[name] = info
				changed = append(changed, name)
			}
		}
		if matched == 0 {
			return errors.NewNotFoundError("worker", pattern)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if r.onChange != nil {
		slices.Sort(changed)
		for _, name := range changed {
			r.onChange(name, available)
		}
	}
	return matched, nil
}
