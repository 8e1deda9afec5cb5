package stream

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
)

// Publisher is the streaming surface handed to workers. Publishing is best
// effort: failures are logged and never reach the worker.
type Publisher interface {
	PublishThought(ctx context.Context, content, source string, segmentID int)
	PublishThoughtComplete(ctx context.Context, source string, segmentID, totalLength int)
	PublishProgress(ctx context.Context, content, source string, percent int)
	PublishError(ctx context.Context, message, source, class string)
	PublishResult(ctx context.Context, source, taskID, output string)

	// StreamThought publishes text as paced thought chunks with segment IDs
	// continuing from the source's last segment, then a completion marker.
	// It returns the segment ID of the completion marker.
	StreamThought(ctx context.Context, source, text string) int
}

// TaskSource is the event source for one task's invocation of a worker,
// e.g. "math:t2". Segment numbering is per source, so two tasks on the
// same worker stream side by side without their segments interleaving.
func TaskSource(worker, taskID string) string {
	if taskID == "" {
		return worker
	}
	return worker + ":" + taskID
}

// Pacer is the chunking and pacing policy for streamed thoughts.
type Pacer struct {
	// ChunkSize is the number of runes per thought event. Values below 1
	// mean one rune per event.
	ChunkSize int
	// Delay is the pause between thought events.
	Delay time.Duration
}

// DefaultPacer streams character by character with a short pause.
func DefaultPacer() Pacer {
	return Pacer{ChunkSize: 1, Delay: 10 * time.Millisecond}
}

// Chunks splits text into rune-safe chunks of at most ChunkSize runes.
func (p Pacer) Chunks(text string) []string {
	size := p.ChunkSize
	if size < 1 {
		size = 1
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Wait sleeps for Delay or until ctx is done.
func (p Pacer) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueuePublisher publishes onto one queue of a Bus.
type QueuePublisher struct {
	bus     *Bus
	queueID string
	pacer   Pacer
	logger  *logging.Logger

	mu       sync.Mutex
	segments map[string]int
}

// PublisherOption configures a QueuePublisher.
type PublisherOption func(*QueuePublisher)

// WithPacer sets the pacing policy for StreamThought.
func WithPacer(p Pacer) PublisherOption {
	return func(qp *QueuePublisher) {
		qp.pacer = p
	}
}

// WithPublisherLogger sets the logger publish failures are reported to.
func WithPublisherLogger(l *logging.Logger) PublisherOption {
	return func(qp *QueuePublisher) {
		if l != nil {
			qp.logger = l
		}
	}
}

// NewPublisher creates a Publisher bound to queueID on bus.
func NewPublisher(bus *Bus, queueID string, opts ...PublisherOption) *QueuePublisher {
	qp := &QueuePublisher{
		bus:      bus,
		queueID:  queueID,
		pacer:    DefaultPacer(),
		logger:   logging.NopLogger(),
		segments: make(map[string]int),
	}
	for _, opt := range opts {
		opt(qp)
	}
	return qp
}

// QueueID returns the queue this publisher writes to.
func (p *QueuePublisher) QueueID() string { return p.queueID }

// PublishThought publishes one thought chunk.
func (p *QueuePublisher) PublishThought(ctx context.Context, content, source string, segmentID int) {
	p.observe(source, segmentID)
	p.publish(ctx, Thought(source, content, segmentID))
}

// PublishThoughtComplete publishes the end-of-thought marker.
func (p *QueuePublisher) PublishThoughtComplete(ctx context.Context, source string, segmentID, totalLength int) {
	p.observe(source, segmentID)
	p.publish(ctx, ThoughtComplete(source, segmentID, totalLength))
}

// PublishProgress publishes a progress message.
func (p *QueuePublisher) PublishProgress(ctx context.Context, content, source string, percent int) {
	p.publish(ctx, Progress(source, content, percent))
}

// PublishError publishes a recovered failure.
func (p *QueuePublisher) PublishError(ctx context.Context, message, source, class string) {
	p.publish(ctx, Error(source, message, class))
}

// PublishResult publishes a worker's final output.
func (p *QueuePublisher) PublishResult(ctx context.Context, source, taskID, output string) {
	p.publish(ctx, Result(source, taskID, output))
}

// StreamThought publishes text as paced chunks followed by a completion
// marker carrying the rune length of text.
func (p *QueuePublisher) StreamThought(ctx context.Context, source, text string) int {
	chunks := p.pacer.Chunks(text)
	last := p.reserve(source, len(chunks))
	first := last - len(chunks) + 1

	for i, chunk := range chunks {
		if i > 0 {
			if err := p.pacer.Wait(ctx); err != nil {
				return last
			}
		}
		p.publish(ctx, Thought(source, chunk, first+i))
	}
	if len(chunks) == 0 {
		last = max(last, 1)
	}
	p.publish(ctx, ThoughtComplete(source, last, len([]rune(text))))
	return last
}

// reserve allocates n consecutive segment IDs for source and returns the
// last one. With n == 0 it returns the current segment.
func (p *QueuePublisher) reserve(source string, n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments[source] += n
	return p.segments[source]
}

func (p *QueuePublisher) observe(source string, segmentID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if segmentID > p.segments[source] {
		p.segments[source] = segmentID
	}
}

func (p *QueuePublisher) publish(ctx context.Context, ev Event) {
	if err := p.bus.Publish(ctx, p.queueID, ev); err != nil {
		serr := errors.NewStreamingError("publish "+ev.Type.String(), err).
			WithQueueID(p.queueID).
			WithSource(ev.Source)
		p.logger.Warn("stream publish failed", "error", serr.Error(), "segment_id", ev.SegmentID)
	}
}

// Discard is a Publisher that drops every event. StreamThought still
// returns the segment numbering a real publisher would.
type Discard struct {
	mu       sync.Mutex
	segments map[string]int
	pacer    Pacer
}

func (d *Discard) PublishThought(context.Context, string, string, int)     {}
func (d *Discard) PublishThoughtComplete(context.Context, string, int, int) {}
func (d *Discard) PublishProgress(context.Context, string, string, int)     {}
func (d *Discard) PublishError(context.Context, string, string, string)     {}
func (d *Discard) PublishResult(context.Context, string, string, string)    {}

func (d *Discard) StreamThought(_ context.Context, source, text string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.segments == nil {
		d.segments = make(map[string]int)
	}
	d.segments[source] += len(d.pacer.Chunks(text))
	return max(d.segments[source], 1)
}
