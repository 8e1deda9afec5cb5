package orchestrator

import (
	"fmt"

	"github.com/Iron-Ham/relay/internal/task"
)

// Step names the sequential steps of a turn.
type Step int

const (
	StepLoadHistory Step = iota
	StepDecompose
	StepAggregate
	StepSave
	StepDone
)

// String returns the step name used in logs.
func (s Step) String() string {
	switch s {
	case StepLoadHistory:
		return "load_history"
	case StepDecompose:
		return "decompose"
	case StepAggregate:
		return "aggregate"
	case StepSave:
		return "save"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Command is what each step of a turn returns to the control loop. It is a
// closed union: Dispatch, Wait, Advance and Fail are its only members.
type Command interface {
	command()
}

// Dispatch fans the plan's tasks out to workers.
type Dispatch struct {
	Plan *task.Plan
}

// Wait blocks until the completion barrier fires or the turn is cancelled.
type Wait struct{}

// Advance moves the turn to the next sequential step.
type Advance struct {
	To Step
}

// Fail ends the turn with an error.
type Fail struct {
	Err error
}

func (Dispatch) command() {}
func (Wait) command()     {}
func (Advance) command()  {}
func (Fail) command()     {}

func (c Dispatch) String() string {
	if c.Plan == nil {
		return "dispatch(<nil>)"
	}
	return fmt.Sprintf("dispatch(%d tasks)", len(c.Plan.Tasks))
}

func (Wait) String() string      { return "wait" }
func (c Advance) String() string { return "advance(" + c.To.String() + ")" }
func (c Fail) String() string    { return fmt.Sprintf("fail(%v)", c.Err) }
