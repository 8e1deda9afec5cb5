package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Iron-Ham/relay/internal/event"
)

// ClientEvent is the wire record sent to live clients for every envelope.
type ClientEvent map[string]any

// Final is the terminating record of a client stream.
type Final struct {
	ThreadID    string `json:"thread_id"`
	FinalOutput string `json:"final_output"`
}

// Encode converts an envelope into its client wire record.
//
// Worker events become {content, type, source, segment_id, timestamp, ...}
// with their metadata flattened in. Lifecycle events become
// {type, timestamp, ...} with the event's exported fields.
func Encode(env Envelope) (ClientEvent, error) {
	switch env.Origin {
	case OriginStream:
		ev := env.Stream
		out := ClientEvent{
			"content":    ev.Content,
			"type":       ev.Type.String(),
			"source":     ev.Source,
			"segment_id": ev.SegmentID,
			"timestamp":  ev.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		for k, v := range ev.Metadata {
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
		return out, nil

	case OriginLifecycle:
		out := ClientEvent{}
		if env.Lifecycle == nil {
			return nil, fmt.Errorf("encode: lifecycle envelope without event")
		}
		raw, err := json.Marshal(env.Lifecycle)
		if err != nil {
			return nil, fmt.Errorf("encode lifecycle event: %w", err)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("encode lifecycle event: %w", err)
		}
		out["type"] = env.Lifecycle.EventType()
		out["timestamp"] = env.Lifecycle.Timestamp().UTC().Format(time.RFC3339Nano)
		return out, nil

	default:
		return nil, fmt.Errorf("encode: unknown origin %q", env.Origin)
	}
}

// WriteSSE writes payload as one server-sent event data frame.
func WriteSSE(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// lifecycleTypes lists the engine event types the client protocol forwards.
var lifecycleTypes = map[string]bool{
	event.TypeTurnStarted:     true,
	event.TypeTasksDispatched: true,
	event.TypeTaskCompleted:   true,
	event.TypeBarrierFired:    true,
	event.TypeAggregationDone: true,
	event.TypeTurnCompleted:   true,
	event.TypeTurnFailed:      true,
}

// Forwarded reports whether an engine event type is part of the client protocol.
func Forwarded(eventType string) bool {
	return lifecycleTypes[eventType]
}
