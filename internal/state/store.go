package state

import (
	"fmt"
	"sync"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/reducer"
)

// Sentinel errors returned by Store.Apply.
var (
	// ErrFrozen indicates the turn was cancelled and accepts no more updates.
	ErrFrozen = errors.New("state: store is frozen")
	// ErrUndispatched indicates a completion for a task that was never dispatched.
	ErrUndispatched = errors.New("state: completion for undispatched task")
	// ErrLateDispatch indicates new tasks were dispatched after the barrier fired.
	ErrLateDispatch = errors.New("state: dispatch after completion")
)

// Store serializes every update to one turn's State. Apply merges and then
// evaluates the barrier inside a single critical section, so the barrier
// always observes the merge that triggered it and fires at most once.
type Store struct {
	mu       sync.Mutex
	state    State
	reducers Reducers
	done     chan struct{}
	fired    bool
	frozen   bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithReducers overrides the default per-field reducers.
func WithReducers(r Reducers) StoreOption {
	return func(s *Store) {
		s.reducers = r
	}
}

// NewStore creates a Store holding a fresh idle State.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		state:    New(),
		reducers: DefaultReducers(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply merges upd into the state and evaluates the completion barrier.
// It reports whether this call fired the barrier.
func (s *Store) Apply(upd Update) (fired bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return false, ErrFrozen
	}

	if s.fired && len(upd.DispatchedIDs.Difference(s.state.DispatchedIDs)) > 0 {
		return false, ErrLateDispatch
	}

	dispatched := reducer.Union(s.state.DispatchedIDs, upd.DispatchedIDs)
	if extra := upd.CompletedIDs.Difference(dispatched); extra.Len() > 0 {
		return false, fmt.Errorf("%w: %v", ErrUndispatched, reducer.Sorted(extra))
	}

	s.state = Merge(s.state, upd, s.reducers)

	if s.fired || !Ready(s.state) {
		return false, nil
	}
	s.state.Phase = PhaseCompleted
	s.fired = true
	close(s.done)
	return true, nil
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Phase returns the current phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Phase
}

// Done is closed when the completion barrier fires.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether the completion barrier has fired.
func (s *Store) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// Freeze rejects every later update. Used when a turn is cancelled so that
// results still in flight are discarded.
func (s *Store) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}
