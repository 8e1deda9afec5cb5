// Package task defines the units of work a turn dispatches and the records
// workers hand back.
package task

import (
	"time"
)

// Status is the outcome of one task invocation.
type Status string

const (
	// StatusSuccess indicates the worker produced an answer.
	StatusSuccess Status = "SUCCESS"
	// StatusError indicates the invocation failed; Output holds a summary.
	StatusError Status = "ERROR"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsError reports whether the status records a failure.
func (s Status) IsError() bool {
	return s == StatusError
}

// Task is one unit of work produced by decomposition. Tasks are immutable
// once dispatched.
type Task struct {
	// ID is unique within a turn.
	ID string `json:"task_id" yaml:"task_id"`

	// Priority orders tasks for presentation and dispatch. Lower runs first.
	Priority int `json:"priority" yaml:"priority"`

	Description    string `json:"description" yaml:"description"`
	ExpectedOutput string `json:"expected_output" yaml:"expected_output"`

	// DependentTaskIDs is informational. Dispatch does not order by it.
	DependentTaskIDs []string `json:"dependent_task_ids,omitempty" yaml:"dependent_task_ids,omitempty"`

	// AssignedWorker names a registered, available worker.
	AssignedWorker string `json:"assigned_worker" yaml:"assigned_worker"`
}

// Completed is the record a task leaves behind, success or failure. It is
// keyed by TaskID for upsert merges.
type Completed struct {
	TaskID       string        `json:"task_id"`
	SourceWorker string        `json:"source_worker"`
	Status       Status        `json:"status"`
	Output       string        `json:"output"`
	Attempts     int           `json:"attempts,omitempty"`
	Duration     time.Duration `json:"duration_ns,omitempty"`
}

// Key returns the upsert key.
func (c Completed) Key() string { return c.TaskID }

// Key returns the task's identity.
func (t Task) Key() string { return t.ID }

// Success builds a successful completion for t.
func Success(t Task, output string) Completed {
	return Completed{
		TaskID:       t.ID,
		SourceWorker: t.AssignedWorker,
		Status:       StatusSuccess,
		Output:       output,
	}
}

// Failure builds an error completion for t.
func Failure(t Task, summary string) Completed {
	return Completed{
		TaskID:       t.ID,
		SourceWorker: t.AssignedWorker,
		Status:       StatusError,
		Output:       summary,
	}
}

// IDs returns the IDs of tasks in order.
func IDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// CompletedIDs returns the task IDs of completed records in order.
func CompletedIDs(records []Completed) []string {
	ids := make([]string, len(records))
	for i, c := range records {
		ids[i] = c.TaskID
	}
	return ids
}
