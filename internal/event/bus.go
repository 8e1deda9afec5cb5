package event

import (
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Iron-Ham/relay/internal/logging"
)

// Wildcard is the topic SubscribeAll handlers are registered under.
const Wildcard = "*"

// Handler receives published events.
type Handler func(Event)

type subscription struct {
	id      string
	topic   string
	handler Handler
}

// routes is an immutable view of the subscriptions. Publish reads it
// without locking; writers replace it wholesale.
type routes struct {
	byTopic map[string][]subscription
	count   int
}

// Bus is a synchronous pub-sub bus. Handlers run on the publishing
// goroutine, topic handlers before wildcard ones, each group in
// registration order.
type Bus struct {
	mu     sync.Mutex // serializes writers
	routes atomic.Pointer[routes]
	logger *logging.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *logging.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: logging.NopLogger()}
	b.routes.Store(&routes{byTopic: map[string][]subscription{}})
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// update applies fn to a copy of the current routes and publishes it.
func (b *Bus) update(fn func(byTopic map[string][]subscription) bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.routes.Load()
	next := make(map[string][]subscription, len(cur.byTopic))
	for topic, subs := range cur.byTopic {
		next[topic] = slices.Clone(subs)
	}
	if !fn(next) {
		return false
	}

	count := 0
	for topic, subs := range next {
		if len(subs) == 0 {
			delete(next, topic)
			continue
		}
		count += len(subs)
	}
	b.routes.Store(&routes{byTopic: next, count: count})
	return true
}

// Subscribe registers handler for eventType and returns an ID for
// Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	sub := subscription{id: uuid.NewString(), topic: eventType, handler: handler}
	b.update(func(byTopic map[string][]subscription) bool {
		byTopic[eventType] = append(byTopic[eventType], sub)
		return true
	})
	return sub.id
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// On subscribes fn to eventType, delivering only events of type T.
func On[T Event](b *Bus, eventType string, fn func(T)) string {
	return b.Subscribe(eventType, func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}

// Unsubscribe removes a subscription. It reports whether id was found.
func (b *Bus) Unsubscribe(id string) bool {
	return b.update(func(byTopic map[string][]subscription) bool {
		for topic, subs := range byTopic {
			if i := slices.IndexFunc(subs, func(s subscription) bool { return s.id == id }); i >= 0 {
				byTopic[topic] = slices.Delete(subs, i, i+1)
				return true
			}
		}
		return false
	})
}

// Publish delivers event to its topic's handlers, then to wildcard
// handlers. A panicking handler is logged and the rest still run.
func (b *Bus) Publish(event Event) {
	r := b.routes.Load()
	topic := event.EventType()
	for _, sub := range r.byTopic[topic] {
		b.deliver(sub, event)
	}
	if topic == Wildcard {
		return
	}
	for _, sub := range r.byTopic[Wildcard] {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event_type", event.EventType(),
				"subscription", sub.id,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	sub.handler(event)
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes.Store(&routes{byTopic: map[string][]subscription{}})
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	return b.routes.Load().count
}
