package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "step.added".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeStepAdded        = "step.added"
	TypeStepUpdated      = "step.updated"
	TypeStepStatus       = "step.status"
	TypeFileWritten      = "file.written"
	TypeScriptStarted    = "script.started"
	TypeScriptExited     = "script.exited"
	TypeServerReady      = "server.ready"
	TypeSessionHalted    = "session.halted"
	TypeSessionFinished  = "session.finished"
	TypeSessionReset     = "session.reset"
	TypeProtocolMismatch = "protocol.mismatch"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
	session   string
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// SessionID returns the build session the event belongs to.
func (e baseEvent) SessionID() string { return e.session }

func newBaseEvent(eventType, sessionID string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
		session:   sessionID,
	}
}

// -----------------------------------------------------------------------------
// Step Events
// -----------------------------------------------------------------------------

// StepAddedEvent is emitted when the reconciler appends a newly parsed step.
type StepAddedEvent struct {
	baseEvent
	StepID string
	Type   string // artifact_header, create_file, run_script
	Title  string
	Path   string // create_file only
}

// NewStepAddedEvent creates a StepAddedEvent.
func NewStepAddedEvent(sessionID, stepID, stepType, title, path string) StepAddedEvent {
	return StepAddedEvent{
		baseEvent: newBaseEvent(TypeStepAdded, sessionID),
		StepID:    stepID,
		Type:      stepType,
		Title:     title,
		Path:      path,
	}
}

// StepUpdatedEvent is emitted when a step's streamed content grows.
type StepUpdatedEvent struct {
	baseEvent
	StepID string
	Bytes  int // length of the step content after the update
}

// NewStepUpdatedEvent creates a StepUpdatedEvent.
func NewStepUpdatedEvent(sessionID, stepID string, size int) StepUpdatedEvent {
	return StepUpdatedEvent{
		baseEvent: newBaseEvent(TypeStepUpdated, sessionID),
		StepID:    stepID,
		Bytes:     size,
	}
}

// StepStatusEvent is emitted when a step's effective status changes.
type StepStatusEvent struct {
	baseEvent
	StepID string
	From   string
	To     string
	Error  string // set when To is "failed"
}

// NewStepStatusEvent creates a StepStatusEvent.
func NewStepStatusEvent(sessionID, stepID, from, to, errMsg string) StepStatusEvent {
	return StepStatusEvent{
		baseEvent: newBaseEvent(TypeStepStatus, sessionID),
		StepID:    stepID,
		From:      from,
		To:        to,
		Error:     errMsg,
	}
}

// -----------------------------------------------------------------------------
// Execution Events
// -----------------------------------------------------------------------------

// FileWrittenEvent is emitted after a file is mounted into the runtime.
// Partial is true for optimistic writes of a file still being streamed.
type FileWrittenEvent struct {
	baseEvent
	Path    string
	Bytes   int
	Partial bool
}

// NewFileWrittenEvent creates a FileWrittenEvent.
func NewFileWrittenEvent(sessionID, path string, size int, partial bool) FileWrittenEvent {
	return FileWrittenEvent{
		baseEvent: newBaseEvent(TypeFileWritten, sessionID),
		Path:      path,
		Bytes:     size,
		Partial:   partial,
	}
}

// ScriptStartedEvent is emitted when a shell command is spawned.
type ScriptStartedEvent struct {
	baseEvent
	StepID   string
	Command  string
	Detached bool // long-running server commands are not awaited
}

// NewScriptStartedEvent creates a ScriptStartedEvent.
func NewScriptStartedEvent(sessionID, stepID, command string, detached bool) ScriptStartedEvent {
	return ScriptStartedEvent{
		baseEvent: newBaseEvent(TypeScriptStarted, sessionID),
		StepID:    stepID,
		Command:   command,
		Detached:  detached,
	}
}

// ScriptExitedEvent is emitted when an awaited shell command finishes.
type ScriptExitedEvent struct {
	baseEvent
	StepID   string
	ExitCode int
	Duration time.Duration
	Error    string
}

// NewScriptExitedEvent creates a ScriptExitedEvent.
func NewScriptExitedEvent(sessionID, stepID string, exitCode int, duration time.Duration, errMsg string) ScriptExitedEvent {
	return ScriptExitedEvent{
		baseEvent: newBaseEvent(TypeScriptExited, sessionID),
		StepID:    stepID,
		ExitCode:  exitCode,
		Duration:  duration,
		Error:     errMsg,
	}
}

// ServerReadyEvent is emitted when the runtime reports a listening server.
type ServerReadyEvent struct {
	baseEvent
	Port int
	URL  string
}

// NewServerReadyEvent creates a ServerReadyEvent.
func NewServerReadyEvent(sessionID string, port int, url string) ServerReadyEvent {
	return ServerReadyEvent{
		baseEvent: newBaseEvent(TypeServerReady, sessionID),
		Port:      port,
		URL:       url,
	}
}

// -----------------------------------------------------------------------------
// Session Events
// -----------------------------------------------------------------------------

// SessionHaltedEvent is emitted when the driver stops after a failed step.
type SessionHaltedEvent struct {
	baseEvent
	StepID string
	Reason string
}

// NewSessionHaltedEvent creates a SessionHaltedEvent.
func NewSessionHaltedEvent(sessionID, stepID, reason string) SessionHaltedEvent {
	return SessionHaltedEvent{
		baseEvent: newBaseEvent(TypeSessionHalted, sessionID),
		StepID:    stepID,
		Reason:    reason,
	}
}

// SessionFinishedEvent is emitted once the stream has ended and no more
// steps can run.
type SessionFinishedEvent struct {
	baseEvent
	Steps  int
	Failed bool
}

// NewSessionFinishedEvent creates a SessionFinishedEvent.
func NewSessionFinishedEvent(sessionID string, steps int, failed bool) SessionFinishedEvent {
	return SessionFinishedEvent{
		baseEvent: newBaseEvent(TypeSessionFinished, sessionID),
		Steps:     steps,
		Failed:    failed,
	}
}

// SessionResetEvent is emitted when a session is abandoned and its runtime
// torn down.
type SessionResetEvent struct {
	baseEvent
	Reason string
}

// NewSessionResetEvent creates a SessionResetEvent.
func NewSessionResetEvent(sessionID, reason string) SessionResetEvent {
	return SessionResetEvent{
		baseEvent: newBaseEvent(TypeSessionReset, sessionID),
		Reason:    reason,
	}
}

// ProtocolMismatchEvent is emitted when a stream ends without any artifact
// markup, usually because the generator ignored the output protocol.
type ProtocolMismatchEvent struct {
	baseEvent
	Bytes int
}

// NewProtocolMismatchEvent creates a ProtocolMismatchEvent.
func NewProtocolMismatchEvent(sessionID string, size int) ProtocolMismatchEvent {
	return ProtocolMismatchEvent{
		baseEvent: newBaseEvent(TypeProtocolMismatch, sessionID),
		Bytes:     size,
	}
}
