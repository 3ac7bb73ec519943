// Package event provides a pub-sub event bus that lets capture sessions,
// ledgers and artifact collection report progress without knowing who listens.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher; subscriptions are event
//     types or dotted globs such as "tracker.*"
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Capture Lifecycle:
//   - [CaptureStartedEvent]: the capture tool reported readiness
//   - [CaptureStoppedEvent]: the session was stopped
//   - [CaptureDiedEvent]: the process exited while the session was active
//
// Tracker:
//   - [ConnectionObservedEvent]: a new distinct connection was counted
//   - [ChannelFirstSeenEvent]: a channel matched for the first time
//
// Artifacts:
//   - [ArtifactCollectedEvent]: a capture file was downloaded (or failed to be)
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine; for sessions that is the output
// pump, so handlers must not block. A panicking handler is logged and does not
// prevent other handlers from being called.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeChannelFirstSeen, func(e event.Event) {
//	    seen := e.(event.ChannelFirstSeenEvent)
//	    fmt.Printf("%s first seen at %v\n", seen.Channel, seen.FirstSeen)
//	})
//
//	bus.Subscribe("capture.*", func(e event.Event) {
//	    logger.Info("capture lifecycle", "type", e.EventType())
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
package event
