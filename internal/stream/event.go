package stream

import (
	"time"
)

// EventType identifies the kind of stream event.
type EventType string

const (
	// TypeThought carries one chunk of a worker's visible reasoning.
	TypeThought EventType = "thought"
	// TypeThoughtComplete marks the end of a thought; Metadata carries total_length.
	TypeThoughtComplete EventType = "thought_complete"
	// TypeProgress carries a coarse progress message; Metadata carries progress_percent.
	TypeProgress EventType = "progress"
	// TypeError reports a recovered failure to the client.
	TypeError EventType = "error"
	// TypeResult carries a worker's final output.
	TypeResult EventType = "result"
)

// String returns the string representation of the event type.
func (t EventType) String() string { return string(t) }

// Metadata keys.
const (
	MetaTotalLength     = "total_length"
	MetaProgressPercent = "progress_percent"
	MetaTaskID          = "task_id"
	MetaErrorClass      = "error_type"
)

// Event is one unit on a turn's stream. Events are never mutated after
// they are published.
//
// SegmentID orders events of the same source. Zero means unordered
// (progress and error events); positive IDs must not decrease per source.
type Event struct {
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Content   string         `json:"content"`
	SegmentID int            `json:"segment_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Ordered reports whether the event participates in per-source ordering.
func (e Event) Ordered() bool {
	return e.SegmentID > 0
}

// Thought builds a thought chunk event.
func Thought(source, content string, segmentID int) Event {
	return Event{
		Type:      TypeThought,
		Source:    source,
		Content:   content,
		SegmentID: segmentID,
		Timestamp: time.Now(),
	}
}

// ThoughtComplete builds a completion marker for the thought that ended at
// segmentID.
func ThoughtComplete(source string, segmentID, totalLength int) Event {
	return Event{
		Type:      TypeThoughtComplete,
		Source:    source,
		SegmentID: segmentID,
		Metadata:  map[string]any{MetaTotalLength: totalLength},
		Timestamp: time.Now(),
	}
}

// Progress builds a progress event.
func Progress(source, content string, percent int) Event {
	return Event{
		Type:      TypeProgress,
		Source:    source,
		Content:   content,
		Metadata:  map[string]any{MetaProgressPercent: percent},
		Timestamp: time.Now(),
	}
}

// Error builds an error event.
func Error(source, message, class string) Event {
	ev := Event{
		Type:      TypeError,
		Source:    source,
		Content:   message,
		Timestamp: time.Now(),
	}
	if class != "" {
		ev.Metadata = map[string]any{MetaErrorClass: class}
	}
	return ev
}

// Result builds a result event carrying a worker's final output.
func Result(source, taskID, output string) Event {
	return Event{
		Type:      TypeResult,
		Source:    source,
		Content:   output,
		Metadata:  map[string]any{MetaTaskID: taskID},
		Timestamp: time.Now(),
	}
}
