package stream

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
)

// Origin identifies which source an Envelope came from.
type Origin string

const (
	// OriginStream marks events published by workers on the turn's queue.
	OriginStream Origin = "stream"
	// OriginLifecycle marks the engine's own lifecycle events.
	OriginLifecycle Origin = "lifecycle"
)

// Envelope is one multiplexed item. Exactly one of Stream or Lifecycle is
// set, according to Origin.
type Envelope struct {
	Origin    Origin
	Stream    Event
	Lifecycle event.Event
}

// Consumer is the read side of a queue.
type Consumer interface {
	Consume(ctx context.Context, timeout time.Duration) (Event, error)
}

// Multiplex interleaves the worker events of consumer with the engine's
// lifecycle events into one channel. Each source is drained by its own
// goroutine, so per-source order is preserved. The returned channel is
// closed only after the queue reports drained or closed, the lifecycle
// channel is closed, or ctx is done. pollTimeout bounds each Consume wait.
func Multiplex(ctx context.Context, consumer Consumer, lifecycle <-chan event.Event, pollTimeout time.Duration) <-chan Envelope {
	out := make(chan Envelope)
	g, gctx := errgroup.WithContext(ctx)

	send := func(env Envelope) error {
		select {
		case out <- env:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	}

	g.Go(func() error {
		for {
			ev, err := consumer.Consume(gctx, pollTimeout)
			switch {
			case err == nil:
				if err := send(Envelope{Origin: OriginStream, Stream: ev}); err != nil {
					return err
				}
			case errors.Is(err, ErrNoEvent):
				continue
			case errors.Is(err, ErrDrained), errors.Is(err, errors.ErrQueueClosed):
				return nil
			default:
				return err
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case ev, ok := <-lifecycle:
				if !ok {
					return nil
				}
				if err := send(Envelope{Origin: OriginLifecycle, Lifecycle: ev}); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	go func() {
		_ = g.Wait()
		close(out)
	}()

	return out
}
