// Package event provides a pub-sub event bus for decoupled communication
// between the decomposition pipeline and its observers.
//
// The orchestrator publishes progress without knowing whether a server-sent
// events stream, a CLI follower or the metrics recorder is listening, and
// those observers subscribe without depending on the orchestrator.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Progress:
//   - [ProgressEvent]: one message on a workspace progress channel
//     ("decompose:log", "decompose:state", "decompose:complete", "decompose:error")
//
// Queue:
//   - [TasksEnqueuedEvent]: approved tasks were handed to the execution queue
//   - [BudgetRaisedEvent]: a running loop's iteration ceiling was raised
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine and protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	id := bus.Subscribe("decompose:complete", func(e event.Event) {
//	    p := e.(event.ProgressEvent)
//	    fmt.Println(p.WorkspaceID, p.Payload)
//	})
//	defer bus.Unsubscribe(id)
package event
