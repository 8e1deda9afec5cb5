package dispatch

import (
	"sync"
	"time"
)

// RetryPolicy bounds how often a failed invocation is retried and how long
// the dispatcher waits between attempts.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry. It doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts. Zero means no cap.
	MaxDelay time.Duration
}

// NoRetry runs every task exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{}
}

// DefaultRetryPolicy retries twice with waits of 2s and 4s, capped at 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		MaxDelay:   8 * time.Second,
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryState tracks the attempts made for one task.
type RetryState struct {
	TaskID     string `json:"task_id"`
	Failures   int    `json:"failures"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`
	Succeeded  bool   `json:"succeeded,omitempty"`
}

// Attempts returns how many attempts have been recorded.
func (s RetryState) Attempts() int {
	if s.Succeeded {
		return s.Failures + 1
	}
	return s.Failures
}

// RetryTracker records retry state per task for one dispatch.
// It is safe for concurrent use.
type RetryTracker struct {
	mu     sync.RWMutex
	states map[string]*RetryState
}

// NewRetryTracker creates an empty tracker.
func NewRetryTracker() *RetryTracker {
	return &RetryTracker{
		states: make(map[string]*RetryState),
	}
}

// Track creates retry state for a task if none exists.
func (m *RetryTracker) Track(taskID string, maxRetries int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.states[taskID]; !exists {
		m.states[taskID] = &RetryState{
			TaskID:     taskID,
			MaxRetries: maxRetries,
		}
	}
}

// State returns a copy of the retry state for a task.
func (m *RetryTracker) State(taskID string) (RetryState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[taskID]
	if !ok {
		return RetryState{}, false
	}
	return *s, true
}

// ShouldRetry reports whether a tracked task has failed, has retries left
// and has not succeeded.
func (m *RetryTracker) ShouldRetry(taskID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.states[taskID]
	if !exists {
		return false
	}
	return s.Failures > 0 && s.Failures <= s.MaxRetries && !s.Succeeded
}

// RecordAttempt records the outcome of one attempt. A failure increments
// the failure count; a success stops further retries.
func (m *RetryTracker) RecordAttempt(taskID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.states[taskID]
	if !exists {
		return
	}
	if err == nil {
		s.Succeeded = true
		return
	}
	s.Failures++
	s.LastError = err.Error()
}

// Failed returns the IDs of tasks that exhausted their retries.
func (m *RetryTracker) Failed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []string
	for id, s := range m.states {
		if !s.Succeeded && s.Failures > s.MaxRetries {
			failed = append(failed, id)
		}
	}
	return failed
}
