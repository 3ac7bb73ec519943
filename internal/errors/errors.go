// Package errors provides centralized error definitions and error handling utilities
// for the nettrace codebase. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - CaptureError: errors related to a capture process (configuration, startup, death)
//   - ArtifactError: errors related to retrieving or deleting capture artifacts
//   - TrackerError: errors related to the connection ledger
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewCaptureError("capture tool not ready", errors.ErrStartupTimeout)
//
//	// Semantic error
//	err := errors.NewTimeoutError("waiting for derp_1", 5*time.Second).WithCause(errors.ErrEventTimeout)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrEventTimeout) { ... }
//
//	var captureErr *errors.CaptureError
//	if errors.As(err, &captureErr) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
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

// Capture-related sentinel errors
var (
	// ErrConfiguration indicates an unsupported platform or flag combination.
	ErrConfiguration = New("unsupported capture configuration")
	// ErrStartupTimeout indicates the readiness line never appeared.
	ErrStartupTimeout = New("capture did not become ready")
	// ErrCaptureProcessDied indicates the capture process exited while active.
	ErrCaptureProcessDied = New("capture process died")
	// ErrSessionNotStarted indicates an operation that requires a running session.
	ErrSessionNotStarted = New("capture session not started")
	// ErrSessionAlreadyStarted indicates Start was called twice.
	ErrSessionAlreadyStarted = New("capture session already started")
)

// Tracker-related sentinel errors
var (
	// ErrEventTimeout indicates a channel's first connection was not observed in time.
	ErrEventTimeout = New("channel event not observed")
	// ErrUnknownChannel indicates a channel name absent from the tracker config.
	ErrUnknownChannel = New("unknown channel")
	// ErrSessionFrozen indicates the ledger no longer accepts observations.
	ErrSessionFrozen = New("ledger is frozen")
)

// Artifact-related sentinel errors
var (
	// ErrArtifactRetrieval indicates a download or remote delete failure.
	ErrArtifactRetrieval = New("artifact retrieval failed")
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

// TraceError is the base interface for all nettrace errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type TraceError interface {
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

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// CaptureError represents errors related to a capture process.
//
// Example:
//
//	err := errors.NewCaptureError("capture tool not ready", errors.ErrStartupTimeout)
//	err = err.WithConnection("DOCKER_CONE_CLIENT_1").WithTool("tcpdump")
//	fmt.Println(err) // "capture error [connection=DOCKER_CONE_CLIENT_1, tool=tcpdump]: capture tool not ready: capture did not become ready"
type CaptureError struct {
	baseError
	Connection string
	Tool       string
	Argv       []string
}

// NewCaptureError creates a new CaptureError.
func NewCaptureError(message string, cause error) *CaptureError {
	return &CaptureError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithConnection adds the connection name to the error context.
func (e *CaptureError) WithConnection(name string) *CaptureError {
	e.Connection = name
	return e
}

// WithTool adds the capture tool binary to the error context.
func (e *CaptureError) WithTool(tool string) *CaptureError {
	e.Tool = tool
	return e
}

// WithArgv records the full invocation.
func (e *CaptureError) WithArgv(argv []string) *CaptureError {
	e.Argv = append([]string(nil), argv...)
	return e
}

// WithSeverity sets the error severity.
func (e *CaptureError) WithSeverity(s Severity) *CaptureError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *CaptureError) WithRetryable(r bool) *CaptureError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *CaptureError) Error() string {
	var parts []string
	if e.Connection != "" {
		parts = append(parts, fmt.Sprintf("connection=%s", e.Connection))
	}
	if e.Tool != "" {
		parts = append(parts, fmt.Sprintf("tool=%s", e.Tool))
	}

	prefix := "capture error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("capture error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *CaptureError) Is(target error) bool {
	if _, ok := target.(*CaptureError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ArtifactError represents a failure to retrieve or delete a capture artifact.
// Artifact errors are logged during teardown and never fail the caller on
// their own, so they default to SeverityWarning.
//
// Example:
//
//	err := errors.NewArtifactError("download failed", ioErr).
//		WithRemotePath("/dump.pcap").WithLocalPath("logs/alpha.pcap")
type ArtifactError struct {
	baseError
	RemotePath string
	LocalPath  string
}

// NewArtifactError creates a new ArtifactError. The cause chain always
// includes ErrArtifactRetrieval.
func NewArtifactError(message string, cause error) *ArtifactError {
	if cause == nil {
		cause = ErrArtifactRetrieval
	} else if !errors.Is(cause, ErrArtifactRetrieval) {
		cause = fmt.Errorf("%w: %w", ErrArtifactRetrieval, cause)
	}
	return &ArtifactError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithRemotePath adds the remote artifact path to the error context.
func (e *ArtifactError) WithRemotePath(path string) *ArtifactError {
	e.RemotePath = path
	return e
}

// WithLocalPath adds the local destination path to the error context.
func (e *ArtifactError) WithLocalPath(path string) *ArtifactError {
	e.LocalPath = path
	return e
}

// Error returns the formatted error message.
func (e *ArtifactError) Error() string {
	var parts []string
	if e.RemotePath != "" {
		parts = append(parts, fmt.Sprintf("remote=%s", e.RemotePath))
	}
	if e.LocalPath != "" {
		parts = append(parts, fmt.Sprintf("local=%s", e.LocalPath))
	}

	prefix := "artifact error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("artifact error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ArtifactError) Is(target error) bool {
	if _, ok := target.(*ArtifactError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TrackerError represents errors related to the connection ledger.
type TrackerError struct {
	baseError
	Channel string
}

// NewTrackerError creates a new TrackerError.
func NewTrackerError(message string, cause error) *TrackerError {
	return &TrackerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithChannel adds the channel name to the error context.
func (e *TrackerError) WithChannel(name string) *TrackerError {
	e.Channel = name
	return e
}

// Error returns the formatted error message.
func (e *TrackerError) Error() string {
	prefix := "tracker error"
	if e.Channel != "" {
		prefix = fmt.Sprintf("tracker error [channel=%s]", e.Channel)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TrackerError) Is(target error) bool {
	if _, ok := target.(*TrackerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("channel", "derp_9")
//	fmt.Println(err) // "channel 'derp_9' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
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
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("min exceeds max")
//	err = err.WithField("derp_1").WithValue("2:1")
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
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for derp_1", 30*time.Second).WithCause(errors.ErrEventTimeout)
//	fmt.Println(err) // "timeout error: waiting for derp_1 (timeout: 30s): channel event not observed"
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
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
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

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
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

// IsTimeout reports whether err is a TimeoutError or wraps ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var timeout *TimeoutError
	if As(err, &timeout) {
		return true
	}
	return Is(err, ErrTimeout)
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing TraceError with IsRetryable() returning true
//   - TimeoutError instances
//   - Errors wrapping ErrTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var traceErr TraceError
	if As(err, &traceErr) {
		return traceErr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var traceErr TraceError
	if As(err, &traceErr) {
		return traceErr.IsUserFacing()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement TraceError.
//
// Example:
//
//	switch errors.GetSeverity(err) {
//	case errors.SeverityError:
//	    logger.Error("capture failed", "error", err)
//	case errors.SeverityWarning:
//	    logger.Warn("artifact not collected", "error", err)
//	}
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var traceErr TraceError
	if As(err, &traceErr) {
		return traceErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

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
