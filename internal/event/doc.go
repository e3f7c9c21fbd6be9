// Package event provides a pub-sub event bus for decoupled inter-component
// communication in handoff.
//
// The reassignment controller, session manager and checkpoint manager
// publish events as they change state; the CLI subscribes to print
// progress and the metrics layer subscribes to count outcomes. Publishers
// never know who is listening.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Attempt lifecycle:
//   - [TaskDelegatedEvent], [AttemptClosedEvent]
//   - [RetryScheduledEvent], [ExecutorSwitchedEvent], [FreshContextEvent]
//   - [EscalatedEvent]
//
// Terminal:
//   - [TaskCompletedEvent], [TaskCancelledEvent], [TaskFinishedEvent]
//   - [AdvisoryLoggedEvent]
//
// State:
//   - [CheckpointSnapshotEvent], [PersistenceDegradedEvent]
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeEscalated, func(e event.Event) {
//	    esc := e.(event.EscalatedEvent)
//	    fmt.Println("needs attention:", esc.TaskID)
//	})
//
// Patterns select a family of events; segments are dot separated:
//
//	bus.SubscribeMatch("task.*", printer)
//
// Handlers run synchronously on the publisher's goroutine. A panicking
// handler is recovered and logged; delivery continues to the rest.
package event
