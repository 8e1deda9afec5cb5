package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "turn.started", "barrier.fired")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeTurnStarted        = "turn.started"
	TypeTasksDispatched    = "tasks.dispatched"
	TypeTaskCompleted      = "task.completed"
	TypeBarrierFired       = "barrier.fired"
	TypeAggregationDone    = "aggregation.completed"
	TypeTurnCompleted      = "turn.completed"
	TypeTurnFailed         = "turn.failed"
	TypeWorkerAvailability = "worker.availability"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Turn Lifecycle Events
// -----------------------------------------------------------------------------

// TurnStartedEvent is emitted when a turn begins, before decomposition.
type TurnStartedEvent struct {
	baseEvent
	TurnID   string `json:"turn_id"`
	ThreadID string `json:"thread_id"`
	Query    string `json:"query"`
}

// NewTurnStartedEvent creates a TurnStartedEvent.
func NewTurnStartedEvent(turnID, threadID, query string) TurnStartedEvent {
	return TurnStartedEvent{
		baseEvent: newBaseEvent(TypeTurnStarted),
		TurnID:    turnID,
		ThreadID:  threadID,
		Query:     query,
	}
}

// DispatchedTask summarizes one dispatched task for observers.
type DispatchedTask struct {
	TaskID   string `json:"task_id"`
	Worker   string `json:"worker"`
	Priority int    `json:"priority"`
}

// TasksDispatchedEvent is emitted once the dispatcher has accepted a plan
// and moved the turn into the dispatching phase.
type TasksDispatchedEvent struct {
	baseEvent
	TurnID  string           `json:"turn_id"`
	Summary string           `json:"summary,omitempty"`
	Tasks   []DispatchedTask `json:"tasks"`
}

// NewTasksDispatchedEvent creates a TasksDispatchedEvent.
func NewTasksDispatchedEvent(turnID, summary string, tasks []DispatchedTask) TasksDispatchedEvent {
	return TasksDispatchedEvent{
		baseEvent: newBaseEvent(TypeTasksDispatched),
		TurnID:    turnID,
		Summary:   summary,
		Tasks:     tasks,
	}
}

// TaskCompletedEvent is emitted when a task's result (success or error) has
// been merged into the turn state.
type TaskCompletedEvent struct {
	baseEvent
	TurnID   string `json:"turn_id"`
	TaskID   string `json:"task_id"`
	Worker   string `json:"worker"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(turnID, taskID, worker, status string, attempts int) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		TurnID:    turnID,
		TaskID:    taskID,
		Worker:    worker,
		Status:    status,
		Attempts:  attempts,
	}
}

// BarrierFiredEvent is emitted exactly once per turn, when every dispatched
// task has a completion record.
type BarrierFiredEvent struct {
	baseEvent
	TurnID    string `json:"turn_id"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// NewBarrierFiredEvent creates a BarrierFiredEvent.
func NewBarrierFiredEvent(turnID string, completed, failed int) BarrierFiredEvent {
	return BarrierFiredEvent{
		baseEvent: newBaseEvent(TypeBarrierFired),
		TurnID:    turnID,
		Completed: completed,
		Failed:    failed,
	}
}

// AggregationCompletedEvent is emitted after synthesis, successful or not.
type AggregationCompletedEvent struct {
	baseEvent
	TurnID   string `json:"turn_id"`
	Fallback bool   `json:"fallback"`
}

// NewAggregationCompletedEvent creates an AggregationCompletedEvent.
func NewAggregationCompletedEvent(turnID string, fallback bool) AggregationCompletedEvent {
	return AggregationCompletedEvent{
		baseEvent: newBaseEvent(TypeAggregationDone),
		TurnID:    turnID,
		Fallback:  fallback,
	}
}

// TurnCompletedEvent is emitted when a turn produced a final answer.
type TurnCompletedEvent struct {
	baseEvent
	TurnID     string `json:"turn_id"`
	ThreadID   string `json:"thread_id"`
	DurationMs int64  `json:"duration_ms"`
}

// NewTurnCompletedEvent creates a TurnCompletedEvent.
func NewTurnCompletedEvent(turnID, threadID string, d time.Duration) TurnCompletedEvent {
	return TurnCompletedEvent{
		baseEvent:  newBaseEvent(TypeTurnCompleted),
		TurnID:     turnID,
		ThreadID:   threadID,
		DurationMs: d.Milliseconds(),
	}
}

// TurnFailedEvent is emitted when a turn ends without a final answer.
type TurnFailedEvent struct {
	baseEvent
	TurnID string `json:"turn_id"`
	Class  string `json:"class"`
	Error  string `json:"error"`
}

// NewTurnFailedEvent creates a TurnFailedEvent.
func NewTurnFailedEvent(turnID, class, errMsg string) TurnFailedEvent {
	return TurnFailedEvent{
		baseEvent: newBaseEvent(TypeTurnFailed),
		TurnID:    turnID,
		Class:     class,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Registry Events
// -----------------------------------------------------------------------------

// WorkerAvailabilityEvent is emitted when a worker is enabled or disabled
// at runtime.
type WorkerAvailabilityEvent struct {
	baseEvent
	Worker    string `json:"worker"`
	Available bool   `json:"available"`
	Source    string `json:"source"` // "api", "config"
}

// NewWorkerAvailabilityEvent creates a WorkerAvailabilityEvent.
func NewWorkerAvailabilityEvent(worker string, available bool, source string) WorkerAvailabilityEvent {
	return WorkerAvailabilityEvent{
		baseEvent: newBaseEvent(TypeWorkerAvailability),
		Worker:    worker,
		Available: available,
		Source:    source,
	}
}
