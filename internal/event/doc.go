// Package event provides a pub-sub event bus that lets the build session,
// driver and CLI observe each other without direct dependencies.
//
// # Event Categories
//
// Steps:
//   - [StepAddedEvent]: a newly parsed step joined the session
//   - [StepUpdatedEvent]: a streaming step's content grew
//   - [StepStatusEvent]: a step's effective status changed
//
// Execution:
//   - [FileWrittenEvent]: a file was mounted into the runtime
//   - [ScriptStartedEvent], [ScriptExitedEvent]: shell command lifecycle
//   - [ServerReadyEvent]: the runtime reported a listening dev server
//
// Session:
//   - [SessionHaltedEvent]: execution stopped on a failed step
//   - [SessionFinishedEvent]: the stream ended and nothing is left to run
//   - [SessionResetEvent]: the session was abandoned
//   - [ProtocolMismatchEvent]: the stream carried no artifact markup
//
// All event fields are primitives so that this package has no dependency on
// the step model.
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeScriptExited, func(e event.Event) {
//	    exited := e.(event.ScriptExitedEvent)
//	    fmt.Println(exited.ExitCode)
//	})
//
// Handlers run synchronously on the publisher's goroutine. A panicking
// handler is logged and does not prevent delivery to other handlers.
package event
