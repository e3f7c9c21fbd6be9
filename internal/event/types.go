// Package event defines event types for decoupling orchestration components
// from the CLI and metrics that observe them.
package event

import (
	"time"

	"github.com/Iron-Ham/handoff/internal/task"
)

// Event type identifiers.
const (
	TypeTaskDelegated       = "task.delegated"
	TypeAttemptClosed       = "attempt.closed"
	TypeRetryScheduled      = "task.retry_scheduled"
	TypeExecutorSwitched    = "task.executor_switched"
	TypeFreshContext        = "task.fresh_context"
	TypeEscalated           = "task.escalated"
	TypeTaskCompleted       = "task.completed"
	TypeTaskCancelled       = "task.cancelled"
	TypeTaskFinished        = "task.finished"
	TypeAdvisoryLogged      = "task.advisory_logged"
	TypeCheckpointSnapshot  = "checkpoint.snapshot"
	TypePersistenceDegraded = "session.persistence_degraded"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.delegated").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Attempt Lifecycle Events
// -----------------------------------------------------------------------------

// TaskDelegatedEvent is emitted when an attempt is opened for an executor.
type TaskDelegatedEvent struct {
	baseEvent
	TaskID       string
	Executor     string
	AttemptID    string
	RetryCount   int
	FreshContext bool
}

// NewTaskDelegatedEvent creates a TaskDelegatedEvent.
func NewTaskDelegatedEvent(taskID, executor, attemptID string, retryCount int, fresh bool) TaskDelegatedEvent {
	return TaskDelegatedEvent{
		baseEvent:    newBaseEvent(TypeTaskDelegated),
		TaskID:       taskID,
		Executor:     executor,
		AttemptID:    attemptID,
		RetryCount:   retryCount,
		FreshContext: fresh,
	}
}

// AttemptClosedEvent is emitted when an attempt is closed with an outcome.
type AttemptClosedEvent struct {
	baseEvent
	Attempt task.Attempt
}

// NewAttemptClosedEvent creates an AttemptClosedEvent.
func NewAttemptClosedEvent(a task.Attempt) AttemptClosedEvent {
	return AttemptClosedEvent{
		baseEvent: newBaseEvent(TypeAttemptClosed),
		Attempt:   a,
	}
}

// RetryScheduledEvent is emitted before the controller sleeps for backoff.
type RetryScheduledEvent struct {
	baseEvent
	TaskID     string
	Executor   string
	RetryCount int // retry about to be made (1-based)
	Delay      time.Duration
}

// NewRetryScheduledEvent creates a RetryScheduledEvent.
func NewRetryScheduledEvent(taskID, executor string, retryCount int, delay time.Duration) RetryScheduledEvent {
	return RetryScheduledEvent{
		baseEvent:  newBaseEvent(TypeRetryScheduled),
		TaskID:     taskID,
		Executor:   executor,
		RetryCount: retryCount,
		Delay:      delay,
	}
}

// ExecutorSwitchedEvent is emitted when the controller advances the fallback chain.
type ExecutorSwitchedEvent struct {
	baseEvent
	TaskID string
	From   string
	To     string
	Reason task.Outcome
}

// NewExecutorSwitchedEvent creates an ExecutorSwitchedEvent.
func NewExecutorSwitchedEvent(taskID, from, to string, reason task.Outcome) ExecutorSwitchedEvent {
	return ExecutorSwitchedEvent{
		baseEvent: newBaseEvent(TypeExecutorSwitched),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// FreshContextEvent is emitted when an executor is restarted with resume
// context after a context overflow.
type FreshContextEvent struct {
	baseEvent
	TaskID   string
	Executor string
	Stale    bool // checkpoint references files modified since its last update
}

// NewFreshContextEvent creates a FreshContextEvent.
func NewFreshContextEvent(taskID, executor string, stale bool) FreshContextEvent {
	return FreshContextEvent{
		baseEvent: newBaseEvent(TypeFreshContext),
		TaskID:    taskID,
		Executor:  executor,
		Stale:     stale,
	}
}

// EscalatedEvent is emitted when recovery is exhausted and the operator is asked.
type EscalatedEvent struct {
	baseEvent
	TaskID   string
	Category string
	Attempts int
	Hint     string
}

// NewEscalatedEvent creates an EscalatedEvent.
func NewEscalatedEvent(taskID, category string, attempts int, hint string) EscalatedEvent {
	return EscalatedEvent{
		baseEvent: newBaseEvent(TypeEscalated),
		TaskID:    taskID,
		Category:  category,
		Attempts:  attempts,
		Hint:      hint,
	}
}

// -----------------------------------------------------------------------------
// Terminal Events
// -----------------------------------------------------------------------------

// TaskCompletedEvent is emitted when a task's contract passes.
type TaskCompletedEvent struct {
	baseEvent
	TaskID       string
	Executor     string
	ContractType string
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, executor, contractType string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent:    newBaseEvent(TypeTaskCompleted),
		TaskID:       taskID,
		Executor:     executor,
		ContractType: contractType,
	}
}

// TaskCancelledEvent is emitted when the operator cancels an in-progress task.
type TaskCancelledEvent struct {
	baseEvent
	TaskID   string
	Executor string
}

// NewTaskCancelledEvent creates a TaskCancelledEvent.
func NewTaskCancelledEvent(taskID, executor string) TaskCancelledEvent {
	return TaskCancelledEvent{
		baseEvent: newBaseEvent(TypeTaskCancelled),
		TaskID:    taskID,
		Executor:  executor,
	}
}

// TaskFinishedEvent is emitted whenever a task reaches a terminal status.
type TaskFinishedEvent struct {
	baseEvent
	TaskID string
	Status task.Status
	Reason string
}

// NewTaskFinishedEvent creates a TaskFinishedEvent.
func NewTaskFinishedEvent(taskID string, status task.Status, reason string) TaskFinishedEvent {
	return TaskFinishedEvent{
		baseEvent: newBaseEvent(TypeTaskFinished),
		TaskID:    taskID,
		Status:    status,
		Reason:    reason,
	}
}

// AdvisoryLoggedEvent is emitted when an advisory task's output is recorded
// for later human review.
type AdvisoryLoggedEvent struct {
	baseEvent
	TaskID   string
	Executor string
	Summary  string
}

// NewAdvisoryLoggedEvent creates an AdvisoryLoggedEvent.
func NewAdvisoryLoggedEvent(taskID, executor, summary string) AdvisoryLoggedEvent {
	return AdvisoryLoggedEvent{
		baseEvent: newBaseEvent(TypeAdvisoryLogged),
		TaskID:    taskID,
		Executor:  executor,
		Summary:   summary,
	}
}

// -----------------------------------------------------------------------------
// State Events
// -----------------------------------------------------------------------------

// CheckpointSnapshotEvent is emitted when a checkpoint is snapshotted on interrupt.
type CheckpointSnapshotEvent struct {
	baseEvent
	TaskID    string
	Reason    string
	SizeBytes int
}

// NewCheckpointSnapshotEvent creates a CheckpointSnapshotEvent.
func NewCheckpointSnapshotEvent(taskID, reason string, size int) CheckpointSnapshotEvent {
	return CheckpointSnapshotEvent{
		baseEvent: newBaseEvent(TypeCheckpointSnapshot),
		TaskID:    taskID,
		Reason:    reason,
		SizeBytes: size,
	}
}

// PersistenceDegradedEvent is emitted when a session write fails and the
// session continues in memory, and again when a later save recovers.
type PersistenceDegradedEvent struct {
	baseEvent
	SessionID string
	Operation string
	Err       string
	Degraded  bool
}

// NewPersistenceDegradedEvent creates a PersistenceDegradedEvent.
func NewPersistenceDegradedEvent(sessionID, op, errMsg string, degraded bool) PersistenceDegradedEvent {
	return PersistenceDegradedEvent{
		baseEvent: newBaseEvent(TypePersistenceDegraded),
		SessionID: sessionID,
		Operation: op,
		Err:       errMsg,
		Degraded:  degraded,
	}
}
