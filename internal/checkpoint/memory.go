package checkpoint

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/relay/internal/config"
)

// MemoryStore keeps histories in process memory. Histories are lost on
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]History
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]History)}
}

// Name implements Store.
func (m *MemoryStore) Name() string { return config.TierMemory }

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, threadID string) (History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.threads[threadID]
	if !ok {
		return emptyHistory(threadID), nil
	}
	h.Messages = slices.Clone(h.Messages)
	return h, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, threadID string, h History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ThreadID = threadID
	h.Messages = slices.Clone(h.Messages)
	h.UpdatedAt = time.Now().UTC()
	m.threads[threadID] = h
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.threads)
	m.threads = make(map[string]History)
	return n, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
