// Package state holds the per-turn orchestration state, the explicit
// per-field reducers that merge partial updates into it, and the completion
// barrier that fires once every dispatched task has a result.
package state

import (
	"slices"
	"time"

	"github.com/Iron-Ham/relay/internal/reducer"
	"github.com/Iron-Ham/relay/internal/task"
)

// Phase is the coarse lifecycle of a turn. Transitions are monotonic:
// idle -> dispatching -> completed.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDispatching Phase = "dispatching"
	PhaseCompleted   Phase = "completed"
)

// String returns the string representation of the phase.
func (p Phase) String() string { return string(p) }

func (p Phase) rank() int {
	switch p {
	case PhaseDispatching:
		return 1
	case PhaseCompleted:
		return 2
	default:
		return 0
	}
}

// ErrorRecord is one entry of the turn-level error log.
type ErrorRecord struct {
	Node      string    `json:"node"`
	Worker    string    `json:"worker,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Class     string    `json:"type"`
	Message   string    `json:"error_message"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the orchestration state of one turn.
//
// Invariant: CompletedIDs is a subset of DispatchedIDs.
type State struct {
	Phase           Phase
	DispatchedIDs   reducer.Set[string]
	CompletedIDs    reducer.Set[string]
	DispatchedTasks []task.Task
	CompletedTasks  []task.Completed
	Errors          []ErrorRecord
}

// New returns the state of a fresh turn.
func New() State {
	return State{
		Phase:         PhaseIdle,
		DispatchedIDs: reducer.NewSet[string](),
		CompletedIDs:  reducer.NewSet[string](),
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s State) Clone() State {
	return State{
		Phase:           s.Phase,
		DispatchedIDs:   s.DispatchedIDs.Clone(),
		CompletedIDs:    s.CompletedIDs.Clone(),
		DispatchedTasks: slices.Clone(s.DispatchedTasks),
		CompletedTasks:  slices.Clone(s.CompletedTasks),
		Errors:          slices.Clone(s.Errors),
	}
}

// Pending returns the dispatched task IDs that have no completion yet.
func (s State) Pending() []string {
	return reducer.Sorted(s.DispatchedIDs.Difference(s.CompletedIDs))
}

// Failed counts error completions.
func (s State) Failed() int {
	n := 0
	for _, c := range s.CompletedTasks {
		if c.Status.IsError() {
			n++
		}
	}
	return n
}

// Update is a partial state record. Zero-valued fields carry nothing.
type Update struct {
	Phase           Phase
	DispatchedIDs   reducer.Set[string]
	CompletedIDs    reducer.Set[string]
	DispatchedTasks []task.Task
	CompletedTasks  []task.Completed
	Errors          []ErrorRecord
}

// Dispatched builds the update that moves a turn into the dispatching phase.
func Dispatched(tasks []task.Task) Update {
	return Update{
		Phase:           PhaseDispatching,
		DispatchedIDs:   reducer.NewSet(task.IDs(tasks)...),
		DispatchedTasks: tasks,
	}
}

// Completion builds the update that records one task result and, if the
// invocation failed, its error log entry.
func Completion(c task.Completed, errs ...ErrorRecord) Update {
	return Update{
		CompletedIDs:   reducer.NewSet(c.TaskID),
		CompletedTasks: []task.Completed{c},
		Errors:         errs,
	}
}

// Reducers names the merge function for each State field. There is no
// reflection: adding a field means adding a reducer here and a line in Merge.
type Reducers struct {
	Phase           reducer.Func[Phase]
	DispatchedIDs   reducer.Func[reducer.Set[string]]
	CompletedIDs    reducer.Func[reducer.Set[string]]
	DispatchedTasks reducer.Func[[]task.Task]
	CompletedTasks  reducer.Func[[]task.Completed]
	Errors          reducer.Func[[]ErrorRecord]
}

// DefaultReducers returns the reducers every turn uses: monotonic phase,
// set union for ID sets, append for dispatched tasks and errors, and upsert
// by task ID for completions.
func DefaultReducers() Reducers {
	return Reducers{
		Phase:           AdvancePhase,
		DispatchedIDs:   reducer.Union[string],
		CompletedIDs:    reducer.Union[string],
		DispatchedTasks: reducer.Append[task.Task],
		CompletedTasks:  reducer.UpsertBy(task.Completed.Key),
		Errors:          reducer.Append[ErrorRecord],
	}
}

// AdvancePhase keeps whichever phase is further along. An empty right phase
// leaves left unchanged.
func AdvancePhase(left, right Phase) Phase {
	if right == "" || right.rank() < left.rank() {
		return left
	}
	return right
}

// Merge applies upd to old field by field. Neither argument is modified.
func Merge(old State, upd Update, r Reducers) State {
	return State{
		Phase:           r.Phase(old.Phase, upd.Phase),
		DispatchedIDs:   r.DispatchedIDs(old.DispatchedIDs, upd.DispatchedIDs),
		CompletedIDs:    r.CompletedIDs(old.CompletedIDs, upd.CompletedIDs),
		DispatchedTasks: r.DispatchedTasks(old.DispatchedTasks, upd.DispatchedTasks),
		CompletedTasks:  r.CompletedTasks(old.CompletedTasks, upd.CompletedTasks),
		Errors:          r.Errors(old.Errors, upd.Errors),
	}
}

// Ready is the completion barrier predicate: at least one task was
// dispatched and every dispatched task has a completion.
func Ready(s State) bool {
	return s.DispatchedIDs.Len() > 0 && s.DispatchedIDs.SubsetOf(s.CompletedIDs)
}
