// Package event provides a pub-sub event bus for turn lifecycle events.
//
// The orchestrator publishes an event at every lifecycle transition of a
// turn. Observers (structured logging, the HTTP transport, the terminal
// viewer) subscribe without the orchestrator knowing about them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Turn Lifecycle:
//   - [TurnStartedEvent]: a turn began
//   - [TasksDispatchedEvent]: the plan was accepted and tasks were fanned out
//   - [TaskCompletedEvent]: one task result was merged
//   - [BarrierFiredEvent]: every dispatched task has a result
//   - [AggregationCompletedEvent]: synthesis finished (possibly with the fallback answer)
//   - [TurnCompletedEvent], [TurnFailedEvent]: the turn ended
//
// Registry:
//   - [WorkerAvailabilityEvent]: a worker was enabled or disabled at runtime
//
// # Delivery Semantics
//
// Publish is synchronous. Handlers run on the publishing goroutine, specific
// handlers before wildcard handlers, each group in registration order. A
// panicking handler is recovered and logged; remaining handlers still run.
// Handlers must not block: forward to a buffered channel if the work is slow.
//
// # Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//	id := bus.Subscribe(event.TypeBarrierFired, func(e event.Event) {
//	    fired := e.(event.BarrierFiredEvent)
//	    logger.Info("barrier fired", "turn_id", fired.TurnID)
//	})
//	defer bus.Unsubscribe(id)
package event
