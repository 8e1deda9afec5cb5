package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/relay/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus()

	var received Event
	bus.Subscribe(TypeTurnStarted, func(e Event) {
		received = e
	})

	bus.Publish(NewTurnStartedEvent("turn-1", "th_1", "what is 2+2"))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	started, ok := received.(TurnStartedEvent)
	if !ok {
		t.Fatalf("Expected TurnStartedEvent, got %T", received)
	}
	if started.ThreadID != "th_1" {
		t.Errorf("Expected thread th_1, got %s", started.ThreadID)
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus()
	called := false
	bus.Subscribe(TypeTurnFailed, func(e Event) { called = true })

	bus.Publish(NewBarrierFiredEvent("turn-1", 2, 0))

	if called {
		t.Error("Handler for a different type should not be called")
	}
}

func TestBus_SubscribeAll_OrderAfterSpecific(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeBarrierFired, func(e Event) { order = append(order, "specific") })

	bus.Publish(NewBarrierFiredEvent("turn-1", 1, 0))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("Expected [specific wildcard], got %v", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id1 := bus.Subscribe("x", func(e Event) { count++ })
	bus.Subscribe("x", func(e Event) { count += 10 })

	if !bus.Unsubscribe(id1) {
		t.Fatal("Unsubscribe should find the subscription")
	}
	if bus.Unsubscribe(id1) {
		t.Error("Second Unsubscribe should return false")
	}
	if bus.Unsubscribe("missing") {
		t.Error("Unsubscribe of unknown ID should return false")
	}

	bus.Publish(newBaseEvent("x"))
	if count != 10 {
		t.Errorf("Expected only the remaining handler to run, count=%d", count)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected 0 subscriptions after Clear, got %d", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(WithLogger(logging.NewWriterLogger(&buf, logging.LevelDebug)))

	secondCalled := false
	bus.Subscribe("x", func(e Event) { panic("boom") })
	bus.Subscribe("x", func(e Event) { secondCalled = true })

	bus.Publish(newBaseEvent("x"))

	if !secondCalled {
		t.Error("Handlers after a panicking handler should still run")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("Expected panic to be logged, got %q", buf.String())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewTaskCompletedEvent("turn-1", "t", "math", "SUCCESS", 1))
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Errorf("Expected 50 deliveries, got %d", count)
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := bus.Subscribe("x", func(e Event) {})
		if seen[id] {
			t.Fatalf("Duplicate subscription ID %s", id)
		}
		seen[id] = true
	}
}

func TestOn_FiltersByType(t *testing.T) {
	bus := NewBus()

	var got []WorkerAvailabilityEvent
	On(bus, TypeWorkerAvailability, func(e WorkerAvailabilityEvent) {
		got = append(got, e)
	})
	// Right topic, wrong concrete type.
	bus.Publish(newBaseEvent(TypeWorkerAvailability))
	bus.Publish(NewWorkerAvailabilityEvent("web", true, "api"))

	if len(got) != 1 || got[0].Worker != "web" || !got[0].Available {
		t.Errorf("got %+v", got)
	}
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("x", func(e Event) {
		calls++
		bus.Subscribe("x", func(Event) { calls += 100 })
	})

	bus.Publish(newBaseEvent("x"))
	if calls != 1 {
		t.Errorf("a handler added mid-publish ran early, calls=%d", calls)
	}
	if bus.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", bus.SubscriptionCount())
	}
}

func TestEventConstructors(t *testing.T) {
	before := time.Now()
	events := []Event{
		NewTurnStartedEvent("t", "th", "q"),
		NewTasksDispatchedEvent("t", "s", []DispatchedTask{{TaskID: "t1", Worker: "math"}}),
		NewTaskCompletedEvent("t", "t1", "math", "SUCCESS", 1),
		NewBarrierFiredEvent("t", 1, 0),
		NewAggregationCompletedEvent("t", false),
		NewTurnCompletedEvent("t", "th", time.Second),
		NewTurnFailedEvent("t", "validation", "bad plan"),
		NewWorkerAvailabilityEvent("web", false, "api"),
	}
	want := []string{
		TypeTurnStarted, TypeTasksDispatched, TypeTaskCompleted, TypeBarrierFired,
		TypeAggregationDone, TypeTurnCompleted, TypeTurnFailed, TypeWorkerAvailability,
	}

	for i, e := range events {
		if e.EventType() != want[i] {
			t.Errorf("event %d: type = %q, want %q", i, e.EventType(), want[i])
		}
		if e.Timestamp().Before(before) {
			t.Errorf("event %d: timestamp before construction", i)
		}
	}
}
