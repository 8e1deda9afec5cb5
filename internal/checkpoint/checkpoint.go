// Package checkpoint persists conversation history per thread.
//
// A [Store] is chosen once at startup by [Select], which walks an ordered
// list of tiers (redis, postgres, sqlite, memory) and returns the first one
// that is configured and reachable. The in-memory tier always works, so a
// misconfigured deployment degrades to ephemeral history instead of
// failing to start.
package checkpoint

import (
	"context"
	"slices"
	"time"
)

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a thread's history.
type Message struct {
	Role      Role      `json:"role" msgpack:"role"`
	Content   string    `json:"content" msgpack:"content"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// History is the conversation of one thread.
type History struct {
	ThreadID  string    `json:"thread_id" msgpack:"thread_id"`
	Messages  []Message `json:"messages" msgpack:"messages"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`
}

// Empty reports whether the history has no messages.
func (h History) Empty() bool { return len(h.Messages) == 0 }

// Append returns a copy of h with msgs added at the end.
func (h History) Append(msgs ...Message) History {
	out := h
	out.Messages = append(slices.Clone(h.Messages), msgs...)
	return out
}

// Last returns at most n of the most recent messages.
func (h History) Last(n int) []Message {
	if n <= 0 || n >= len(h.Messages) {
		return slices.Clone(h.Messages)
	}
	return slices.Clone(h.Messages[len(h.Messages)-n:])
}

// Store loads and saves thread histories.
//
// Load of an unknown thread returns an empty History with the thread ID set
// and no error. Implementations are safe for concurrent use.
type Store interface {
	// Name returns the tier name ("redis", "postgres", "sqlite", "memory").
	Name() string
	Load(ctx context.Context, threadID string) (History, error)
	Save(ctx context.Context, threadID string, h History) error
	// Delete removes one thread. Deleting an unknown thread is not an error.
	Delete(ctx context.Context, threadID string) error
	// Clear removes every thread and returns how many were removed.
	Clear(ctx context.Context) (int, error)
	Close() error
}

func emptyHistory(threadID string) History {
	return History{ThreadID: threadID}
}
