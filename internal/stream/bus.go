package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
)

// DefaultCapacity is the queue capacity used when none is configured.
const DefaultCapacity = 256

// Bus owns the per-turn stream queues of a process. It is an explicitly
// constructed service; inject it where queues are created or consumed.
type Bus struct {
	mu       sync.RWMutex
	queues   map[string]*Queue
	capacity int
	logger   *logging.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity sets the buffered event capacity of each new queue.
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		queues:   make(map[string]*Queue),
		capacity: DefaultCapacity,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create allocates a queue for a turn on threadID and returns its ID,
// formatted queue_<thread>_<8 hex>.
func (b *Bus) Create(threadID string) string {
	id := "queue_" + threadID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	q := newQueue(id, b.capacity)

	b.mu.Lock()
	b.queues[id] = q
	b.mu.Unlock()

	b.logger.Debug("stream queue created", "queue_id", id, "thread_id", threadID)
	return id
}

// Get returns the queue with the given ID.
func (b *Bus) Get(queueID string) (*Queue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[queueID]
	return q, ok
}

// Publish enqueues ev on the named queue.
func (b *Bus) Publish(ctx context.Context, queueID string, ev Event) error {
	q, ok := b.Get(queueID)
	if !ok {
		return errors.ErrQueueNotFound
	}
	return q.Publish(ctx, ev)
}

// Consume waits up to timeout for the next event on the named queue.
func (b *Bus) Consume(ctx context.Context, queueID string, timeout time.Duration) (Event, error) {
	q, ok := b.Get(queueID)
	if !ok {
		return Event{}, errors.ErrQueueNotFound
	}
	return q.Consume(ctx, timeout)
}

// Seal stops the named queue from accepting events.
func (b *Bus) Seal(queueID string) error {
	q, ok := b.Get(queueID)
	if !ok {
		return errors.ErrQueueNotFound
	}
	q.Seal()
	return nil
}

// Destroy removes the named queue and discards its buffered events.
// Destroying an unknown queue is a no-op.
func (b *Bus) Destroy(queueID string) {
	b.mu.Lock()
	q, ok := b.queues[queueID]
	delete(b.queues, queueID)
	b.mu.Unlock()

	if ok {
		q.Destroy()
		b.logger.Debug("stream queue destroyed", "queue_id", queueID, "discarded", q.Len())
	}
}

// ActiveQueues returns the number of live queues.
func (b *Bus) ActiveQueues() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues)
}
