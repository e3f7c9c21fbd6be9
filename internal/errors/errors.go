// Package errors provides centralized error definitions and error handling utilities
// for the handoff codebase. It defines sentinel errors, typed domain errors with
// context builders, and the failure-class taxonomy the reassignment controller
// dispatches on.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors related to the persisted session record
//   - TaskError: errors raised while delegating or verifying a task
//   - PersistenceError: errors from the persistence backend
//
// ValidationError reports invalid input or configuration.
//
// # Failure Classes
//
// Every domain error carries a [Class]:
//   - ClassTransient: rate limits, retried locally with backoff
//   - ClassFreshContext: context overflow, needs a fresh execution context
//   - ClassVerification: contract criteria did not pass
//   - ClassCrash: abnormal executor termination
//   - ClassPersistence: backend unavailable, degrade to in-memory
//
// # Usage
//
//	err := errors.NewTaskError("executor exited", cause).
//		WithTaskID("task-1").
//		WithExecutor("claude").
//		WithClass(errors.ClassCrash)
//
//	if errors.IsRetryable(err) { ... }
//	if errors.IsPersistence(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Join   = errors.Join
)

// Class is the failure taxonomy used to pick a recovery path.
type Class string

const (
	ClassNone         Class = ""
	ClassTransient    Class = "transient"
	ClassFreshContext Class = "needs_fresh_context"
	ClassVerification Class = "verification"
	ClassCrash        Class = "crash"
	ClassPersistence  Class = "persistence"
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that no session record exists for an id.
	ErrSessionNotFound = New("session not found")
	// ErrSessionActive indicates that a session is live and cannot be claimed.
	ErrSessionActive = New("session is active")
	// ErrNoActiveTask indicates that the session has no task in progress.
	ErrNoActiveTask = New("no active task")
	// ErrTaskInProgress indicates that another task already occupies the session.
	ErrTaskInProgress = New("a task is already in progress")
	// ErrInvalidDecision indicates an unknown resume or escalation choice.
	ErrInvalidDecision = New("invalid decision")
)

// Task-related sentinel errors
var (
	// ErrChainExhausted indicates that every executor in a fallback chain was tried.
	ErrChainExhausted = New("fallback chain exhausted")
	// ErrExecutorNotRegistered indicates a chain entry with no registered executor.
	ErrExecutorNotRegistered = New("executor not registered")
	// ErrCancelled indicates that the operator cancelled the task.
	ErrCancelled = New("cancelled")
)

// Persistence-related sentinel errors
var (
	// ErrBackendUnavailable indicates the persistence backend cannot be reached.
	ErrBackendUnavailable = New("persistence backend unavailable")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// HandoffError is the base interface for all handoff errors.
type HandoffError interface {
	error
	Unwrap() error
	Is(target error) bool
	IsRetryable() bool
	Class() Class
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	retryable bool
	class     Class
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

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) Class() Class {
	return e.class
}

// format renders "<kind> error [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind + " error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s error [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to the session record.
//
// Example:
//
//	err := errors.NewSessionError("cannot take over session", errors.ErrSessionActive)
//	err = err.WithSessionID("abc123")
//	fmt.Println(err) // "session error [session=abc123]: cannot take over session: session is active"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{message: message, cause: cause},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, "session="+e.SessionID)
	}
	return e.format("session", parts)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TaskError represents a failure while delegating, executing or verifying a task.
// The class decides which recovery path the reassignment controller takes.
type TaskError struct {
	baseError
	TaskID   string
	Executor string
}

// NewTaskError creates a new TaskError with ClassCrash.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message: message,
			cause:   cause,
			class:   ClassCrash,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithExecutor adds an executor ID to the error context.
func (e *TaskError) WithExecutor(executor string) *TaskError {
	e.Executor = executor
	return e
}

// WithClass sets the failure class. Transient failures are retryable.
func (e *TaskError) WithClass(c Class) *TaskError {
	e.class = c
	e.retryable = c == ClassTransient
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, "task="+e.TaskID)
	}
	if e.Executor != "" {
		parts = append(parts, "executor="+e.Executor)
	}
	if e.class != ClassNone {
		parts = append(parts, "class="+string(e.class))
	}
	return e.format("task", parts)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PersistenceError represents a failure reading or writing the backend.
// It always carries ClassPersistence and wraps ErrBackendUnavailable when
// no more specific cause is given. It is never retryable: callers degrade
// to in-memory operation instead.
type PersistenceError struct {
	baseError
	Key       string
	Operation string
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(message string, cause error) *PersistenceError {
	if cause == nil {
		cause = ErrBackendUnavailable
	}
	return &PersistenceError{
		baseError: baseError{
			message: message,
			cause:   cause,
			class:   ClassPersistence,
		},
	}
}

// WithKey adds the record key to the error context.
func (e *PersistenceError) WithKey(key string) *PersistenceError {
	e.Key = key
	return e
}

// WithOperation adds the backend operation (load, save, update...) to the error context.
func (e *PersistenceError) WithOperation(op string) *PersistenceError {
	e.Operation = op
	return e
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, "op="+e.Operation)
	}
	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}
	return e.format("persistence", parts)
}

// Is checks if this error matches the target.
func (e *PersistenceError) Is(target error) bool {
	if _, ok := target.(*PersistenceError); ok {
		return true
	}
	if target == ErrBackendUnavailable {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError indicates invalid input or state.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// WithField sets the field that failed validation.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Value != nil:
		return fmt.Sprintf("validation error: %s: %s (got %v)", e.Field, e.Message, e.Value)
	case e.Field != "":
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	default:
		return "validation error: " + e.Message
	}
}

// Is matches any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// ClassOf returns the failure class of err, or ClassNone if err carries none.
// The outermost classified error wins.
func ClassOf(err error) Class {
	if err == nil {
		return ClassNone
	}
	var he HandoffError
	if As(err, &he) {
		return he.Class()
	}
	if Is(err, ErrBackendUnavailable) {
		return ClassPersistence
	}
	return ClassNone
}

// IsPersistence reports whether err is a persistence failure. Callers use it
// to degrade to in-memory operation instead of failing.
func IsPersistence(err error) bool {
	return ClassOf(err) == ClassPersistence
}

// IsRetryable reports whether err is transient and the same executor may
// succeed on retry. Only TaskErrors with ClassTransient qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he HandoffError
	if As(err, &he) {
		return he.IsRetryable()
	}
	return false
}
