// Package errors provides centralized error definitions and error handling utilities
// for zapbuild. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors related to build session lifecycle
//   - ExecutionError: a build step that failed to execute
//   - RuntimeError: errors reported by a runtime adapter
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// The artifact parser never returns errors. Malformed or truncated markup is
// recorded as anomalies on the parse result instead.
//
// # Usage
//
//	err := errors.NewExecutionError("script exited non-zero", errors.ErrNonZeroExit).
//	    WithStep(s.ID, string(s.Type)).
//	    WithCommand(s.Code).
//	    WithExitCode(1)
//
//	if errors.Is(err, errors.ErrNonZeroExit) { ... }
//
//	var execErr *errors.ExecutionError
//	if errors.As(err, &execErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionAborted indicates the build session was abandoned.
	ErrSessionAborted = New("session aborted")
	// ErrSessionNotStarted indicates an operation on a session whose loop is not running.
	ErrSessionNotStarted = New("session not started")
	// ErrStreamClosed indicates a chunk was fed after the stream was closed.
	ErrStreamClosed = New("stream already closed")
	// ErrProtocolMismatch indicates the stream contained no recognizable artifact markup.
	ErrProtocolMismatch = New("no artifact markup found in stream")
)

// Execution-related sentinel errors
var (
	// ErrRuntimeUnavailable indicates no runtime adapter is attached yet.
	ErrRuntimeUnavailable = New("runtime unavailable")
	// ErrDriverHalted indicates the driver stopped after a failed step.
	ErrDriverHalted = New("driver halted")
	// ErrMountFailed indicates writing files into the runtime tree failed.
	ErrMountFailed = New("mount failed")
	// ErrSpawnFailed indicates a shell command could not be started.
	ErrSpawnFailed = New("spawn failed")
	// ErrNonZeroExit indicates a shell command exited with a non-zero status.
	ErrNonZeroExit = New("command exited non-zero")
	// ErrStepNotFound indicates a step id is not part of the session.
	ErrStepNotFound = New("step not found")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// BuildError is the base interface for all zapbuild errors.
type BuildError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// formatPrefixed renders "<kind> [k=v, ...]: message: cause".
func formatPrefixed(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to the build session lifecycle.
//
// Example:
//
//	err := errors.NewSessionError("feed rejected", errors.ErrStreamClosed).WithSessionID("abc123")
//	fmt.Println(err) // "session error [session=abc123]: feed rejected: stream already closed"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	return formatPrefixed("session error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ExecutionError represents a build step that failed while the driver was
// executing it. The step is marked failed and the driver halts.
//
// Example:
//
//	err := errors.NewExecutionError("mount rejected", errors.ErrMountFailed).
//	    WithStep("6f1c...", "create_file").
//	    WithPath("src/index.html")
type ExecutionError struct {
	baseError
	StepID   string
	StepType string
	Path     string
	Command  string
	ExitCode int
	hasExit  bool
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(message string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithStep adds the failing step identity to the error context.
func (e *ExecutionError) WithStep(id, stepType string) *ExecutionError {
	e.StepID = id
	e.StepType = stepType
	return e
}

// WithPath adds the file path being written.
func (e *ExecutionError) WithPath(path string) *ExecutionError {
	e.Path = path
	return e
}

// WithCommand adds the shell command being run.
func (e *ExecutionError) WithCommand(command string) *ExecutionError {
	e.Command = command
	return e
}

// WithExitCode records the process exit status.
func (e *ExecutionError) WithExitCode(code int) *ExecutionError {
	e.ExitCode = code
	e.hasExit = true
	return e
}

// WithSeverity sets the error severity.
func (e *ExecutionError) WithSeverity(s Severity) *ExecutionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	var parts []string
	if e.StepID != "" {
		parts = append(parts, fmt.Sprintf("step=%s", e.StepID))
	}
	if e.StepType != "" {
		parts = append(parts, fmt.Sprintf("type=%s", e.StepType))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%q", truncate(e.Command, 60)))
	}
	if e.hasExit {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	return formatPrefixed("execution error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// RuntimeError represents errors reported by a runtime adapter
// (mount, spawn, reset, boot).
//
// Example:
//
//	err := errors.NewRuntimeError("create container", cause).
//	    WithAdapter("docker").
//	    WithOperation("boot")
type RuntimeError struct {
	baseError
	Adapter   string
	Operation string
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(message string, cause error) *RuntimeError {
	return &RuntimeError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: false,
		},
	}
}

// WithAdapter records which adapter produced the error.
func (e *RuntimeError) WithAdapter(kind string) *RuntimeError {
	e.Adapter = kind
	return e
}

// WithOperation records the adapter operation.
func (e *RuntimeError) WithOperation(op string) *RuntimeError {
	e.Operation = op
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *RuntimeError) WithRetryable(r bool) *RuntimeError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *RuntimeError) Error() string {
	var parts []string
	if e.Adapter != "" {
		parts = append(parts, fmt.Sprintf("adapter=%s", e.Adapter))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Operation))
	}
	return formatPrefixed("runtime error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *RuntimeError) Is(target error) bool {
	if _, ok := target.(*RuntimeError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates that a requested resource was not found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found", resourceType),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
	}
	return e.message
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError indicates that input validation failed.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField sets the field that failed validation.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the invalid value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		if e.Value != nil {
			return fmt.Sprintf("validation error: %s: %s (got: %v)", e.Field, e.message, e.Value)
		}
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.message)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError indicates that an operation exceeded its time budget.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. The driver itself never retries; callers use
// this to decide whether offering a restart makes sense.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var buildErr BuildError
	if As(err, &buildErr) {
		return buildErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var buildErr BuildError
	if As(err, &buildErr) {
		return buildErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement BuildError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var buildErr BuildError
	if As(err, &buildErr) {
		return buildErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
