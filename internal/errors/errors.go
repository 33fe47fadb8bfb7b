// Package errors provides the error definitions shared across speki.
//
// It defines sentinel errors for pipeline conditions, domain errors for the
// decomposition run and its stages, semantic errors (not found, validation,
// timeout) and classification helpers used by the HTTP and CLI surfaces to
// decide what is safe to show a user.
//
// # Usage
//
//	err := errors.NewStageError("review", cause).WithArtifact("billing")
//	if errors.Is(err, errors.ErrStageFailed) { ... }
//
//	var stageErr *errors.StageError
//	if errors.As(err, &stageErr) {
//	    log.Error("stage failed", "kind", stageErr.Kind)
//	}
//
// The standard library helpers are re-exported so callers need only this
// package for error handling.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

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
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
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

// Pipeline sentinel errors
var (
	// ErrRunActive is returned when a run is requested for an artifact that
	// already has one in an active status.
	ErrRunActive = New("decomposition already in progress")
	// ErrNoDraft indicates that no draft task list exists for the artifact.
	ErrNoDraft = New("no draft task list")
	// ErrStageFailed indicates that a generation or review stage failed.
	ErrStageFailed = New("stage failed")
	// ErrStateCorrupted indicates that a persisted state record could not be decoded.
	ErrStateCorrupted = New("state record corrupted")
)

// Queue sentinel errors
var (
	ErrTaskNotFound  = New("task not found")
	ErrQueueLocked   = New("queue is locked by another process")
	ErrDuplicateTask = New("duplicate task id")
)

// General sentinel errors
var (
	ErrTimeout         = New("operation timed out")
	ErrCanceled        = New("operation canceled")
	ErrInvalidInput    = New("invalid input")
	ErrOperationFailed = New("operation failed")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// SpekiError is implemented by every error type in this package.
type SpekiError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	// IsRetryable reports whether the operation may succeed if repeated.
	IsRetryable() bool
	// IsUserFacing reports whether the message is safe to show to end users.
	IsUserFacing() bool
}

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

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// Kind classifies a stage failure for the state record and the error channel.
type Kind string

const (
	KindCLIUnavailable Kind = "CLI_UNAVAILABLE"
	KindTimeout        Kind = "TIMEOUT"
	KindCrash          Kind = "CRASH"
)

// StageError is a failure of the generation or review stage.
//
// Example:
//
//	err := errors.NewStageError("generation", cause).WithArtifact("billing")
//	fmt.Println(err) // "stage error [stage=generation, artifact=billing, kind=CRASH]: ..."
type StageError struct {
	baseError
	Stage      string
	ArtifactID string
	Kind       Kind
}

// NewStageError wraps cause as a failure of stage. The kind is derived from
// the cause with ClassifyKind.
func NewStageError(stage string, cause error) *StageError {
	kind := ClassifyKind(cause)
	return &StageError{
		baseError: baseError{
			message:    stage + " failed",
			cause:      cause,
			severity:   SeverityError,
			retryable:  kind != KindCLIUnavailable,
			userFacing: true,
		},
		Stage: stage,
		Kind:  kind,
	}
}

// WithArtifact adds the artifact ID to the error context.
func (e *StageError) WithArtifact(id string) *StageError {
	e.ArtifactID = id
	return e
}

// WithKind overrides the derived kind.
func (e *StageError) WithKind(k Kind) *StageError {
	e.Kind = k
	e.retryable = k != KindCLIUnavailable
	return e
}

// Error returns the formatted error message.
func (e *StageError) Error() string {
	parts := []string{"stage=" + e.Stage}
	if e.ArtifactID != "" {
		parts = append(parts, "artifact="+e.ArtifactID)
	}
	parts = append(parts, "kind="+string(e.Kind))
	prefix := fmt.Sprintf("stage error [%s]", strings.Join(parts, ", "))
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Is matches ErrStageFailed, any *StageError and the wrapped cause.
func (e *StageError) Is(target error) bool {
	if _, ok := target.(*StageError); ok {
		return true
	}
	if target == ErrStageFailed {
		return true
	}
	return e.baseError.Is(target)
}

// ClassifyKind maps an arbitrary stage failure to a Kind. A missing
// executable is CLI_UNAVAILABLE, a deadline is TIMEOUT, and anything else is
// CRASH.
func ClassifyKind(err error) Kind {
	if err == nil {
		return KindCrash
	}
	var stageErr *StageError
	if As(err, &stageErr) && stageErr.Kind != "" {
		return stageErr.Kind
	}
	if Is(err, context.DeadlineExceeded) || Is(err, ErrTimeout) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "executable file not found"),
		strings.Contains(msg, "enoent"),
		strings.Contains(msg, "command not found"):
		return KindCLIUnavailable
	case strings.Contains(msg, "timed out"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	default:
		return KindCrash
	}
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("draft", "billing")
//	fmt.Println(err) // "draft 'billing' not found"
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
//	err := errors.NewValidationError("source document is required").WithField("sourceDoc")
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
		parts = append(parts, "field="+e.Field)
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

// Is matches ErrInvalidInput, any *ValidationError and the wrapped cause.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
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
	base := fmt.Sprintf("timeout error: %s timed out after %s", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is matches ErrTimeout, any *TimeoutError and the wrapped cause.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se SpekiError
	if As(err, &se) {
		return se.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end
// users. ErrRunActive is user-facing even though it is a plain sentinel.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var se SpekiError
	if As(err, &se) {
		return se.IsUserFacing()
	}
	return Is(err, ErrRunActive) || Is(err, ErrNoDraft)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement SpekiError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var se SpekiError
	if As(err, &se) {
		return se.Severity()
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
