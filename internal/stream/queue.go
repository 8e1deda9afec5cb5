package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/relay/internal/errors"
)

// Queue errors.
var (
	// ErrNoEvent is returned by Consume when the timeout elapses first.
	ErrNoEvent = errors.New("stream: no event before timeout")
	// ErrDrained is returned by Consume once a sealed queue is empty.
	ErrDrained = errors.New("stream: queue drained")
	// ErrOutOfOrder is returned by Publish when a segment ID goes backwards
	// for its source.
	ErrOutOfOrder = errors.New("stream: segment out of order")
)

// Queue is a bounded, per-turn event queue. Publishers block when it is
// full. Publish checks ordering and enqueues under one lock, so events of a
// source reach the consumer in the order their segment IDs were accepted.
type Queue struct {
	id string
	ch chan Event

	mu          sync.Mutex
	lastSegment map[string]int
	sealed      bool

	sealedCh    chan struct{}
	closed      chan struct{}
	destroyOnce sync.Once
}

func newQueue(id string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		id:          id,
		ch:          make(chan Event, capacity),
		lastSegment: make(map[string]int),
		sealedCh:    make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// ID returns the queue ID.
func (q *Queue) ID() string { return q.id }

// Publish enqueues ev, blocking while the queue is full.
func (q *Queue) Publish(ctx context.Context, ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed || q.isClosed() {
		return errors.ErrQueueClosed
	}
	if ev.Ordered() {
		if last := q.lastSegment[ev.Source]; ev.SegmentID < last {
			return fmt.Errorf("%w: source %s segment %d after %d", ErrOutOfOrder, ev.Source, ev.SegmentID, last)
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case q.ch <- ev:
	case <-q.closed:
		return errors.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if ev.Ordered() {
		q.lastSegment[ev.Source] = ev.SegmentID
	}
	return nil
}

// Consume returns the next event. It waits at most timeout (forever when
// timeout is zero) and returns ErrNoEvent when nothing arrived. Once the
// queue is sealed and empty it returns ErrDrained; once destroyed it
// returns ErrQueueClosed.
func (q *Queue) Consume(ctx context.Context, timeout time.Duration) (Event, error) {
	if q.isClosed() {
		return Event{}, errors.ErrQueueClosed
	}

	select {
	case ev := <-q.ch:
		return ev, nil
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case ev := <-q.ch:
		return ev, nil
	case <-q.sealedCh:
		select {
		case ev := <-q.ch:
			return ev, nil
		default:
			return Event{}, ErrDrained
		}
	case <-q.closed:
		return Event{}, errors.ErrQueueClosed
	case <-timer:
		return Event{}, ErrNoEvent
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Seal stops accepting events. Consumers drain what is buffered and then
// see ErrDrained. Sealing twice is a no-op.
func (q *Queue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return
	}
	q.sealed = true
	close(q.sealedCh)
}

// Destroy discards buffered events and unblocks every publisher and
// consumer. It is safe to call more than once.
func (q *Queue) Destroy() {
	q.destroyOnce.Do(func() {
		close(q.closed)
	})
}

// Len returns the number of buffered events.
func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
