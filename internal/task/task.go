// Package task defines the work item and attempt types shared by every
// orchestration component.
//
// These types are the vocabulary of the engine: a [Task] is a unit of
// delegated work, an [Attempt] is one executor try for that task, and an
// [Outcome] classifies how the try ended. They carry no behavior beyond
// small predicates so that checkpoint, contract, session and reassign
// packages can share them without import cycles.
package task

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// IsTerminal returns true if the status is completed, failed or skipped.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Task is a unit of delegated work.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`

	// ExpectedArtifacts are file-path hints used for contract generation
	// and fallback chain classification. They are not interpreted further.
	ExpectedArtifacts []string `json:"expected_artifacts,omitempty"`

	// Steps is an optional declared step list that seeds the checkpoint's
	// pending steps.
	Steps []string `json:"steps,omitempty"`

	Status Status `json:"status"`
}

// New creates a pending task.
func New(id, description string, artifacts ...string) *Task {
	return &Task{
		ID:                id,
		Description:       description,
		ExpectedArtifacts: artifacts,
		Status:            StatusPending,
	}
}

// Outcome classifies how an executor attempt ended.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeRateLimited        Outcome = "rate_limited"
	OutcomeContextOverflow    Outcome = "context_overflow"
	OutcomeCrashed            Outcome = "crashed"
)

// ValidOutcomes returns every known outcome in transition-table order.
func ValidOutcomes() []Outcome {
	return []Outcome{
		OutcomeSuccess,
		OutcomeRateLimited,
		OutcomeContextOverflow,
		OutcomeVerificationFailed,
		OutcomeCrashed,
	}
}

// Attempt is one executor try for a task. Attempts are appended to the
// session's attempts log once closed and are never mutated afterwards.
type Attempt struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Executor   string    `json:"executor"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count"`

	// FreshContext is true when the attempt was started in a fresh
	// execution context after a context overflow.
	FreshContext bool `json:"fresh_context,omitempty"`
}

// Open starts an attempt for the given executor.
func Open(id, taskID, executor string, retryCount int, now time.Time) Attempt {
	return Attempt{
		ID:         id,
		TaskID:     taskID,
		Executor:   executor,
		StartedAt:  now,
		RetryCount: retryCount,
	}
}

// Closed returns true once the attempt has an outcome and end time.
func (a Attempt) Closed() bool {
	return a.Outcome != "" && !a.EndedAt.IsZero()
}

// Close returns a copy of the attempt with its outcome recorded.
func (a Attempt) Close(outcome Outcome, errMsg string, now time.Time) Attempt {
	a.Outcome = outcome
	a.Error = errMsg
	a.EndedAt = now
	return a
}

// String returns a short human-readable summary of the attempt.
func (a Attempt) String() string {
	if a.Error == "" {
		return fmt.Sprintf("%s: %s (retry %d)", a.Executor, a.Outcome, a.RetryCount)
	}
	return fmt.Sprintf("%s: %s (retry %d): %s", a.Executor, a.Outcome, a.RetryCount, a.Error)
}
