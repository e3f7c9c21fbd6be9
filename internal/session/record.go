// Package session owns the persisted session record: the single source of
// truth for what task is in progress, how every executor attempt ended,
// and what finished tasks left behind.
//
// A [Session] is passed explicitly to every component that mutates
// orchestration state; there is no ambient global. All writes go through
// [Manager.Touch], which stamps the heartbeat and persists the record.
package session

import (
	"slices"
	"time"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/task"
)

// DefaultID is the session id used when multi-session mode is off.
const DefaultID = "default"

// ActiveTask is the task currently owned by the session.
type ActiveTask struct {
	Task       *task.Task             `json:"task"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Contract   *contract.Contract     `json:"verification_contract"`

	// Results holds one verification result per verified attempt, oldest
	// first. The last entry decides contract satisfaction.
	Results []*contract.Result `json:"verification_results,omitempty"`

	Category  fallback.Category `json:"category,omitempty"`
	Chain     []string          `json:"chain,omitempty"`
	StartedAt time.Time         `json:"started_at"`

	// Tried lists the chain entries whose turn in the current round is
	// over. A resumed run skips them.
	Tried []string `json:"tried,omitempty"`
	// RoundAttempt is how many of the task's logged attempts predate the
	// current round.
	RoundAttempt int `json:"round_attempt,omitempty"`
}

// HasTried reports whether exe's turn in the current round is over.
func (a *ActiveTask) HasTried(exe string) bool {
	return slices.Contains(a.Tried, exe)
}

// LatestResult returns the most recent verification result, or nil.
func (a *ActiveTask) LatestResult() *contract.Result {
	if a == nil || len(a.Results) == 0 {
		return nil
	}
	return a.Results[len(a.Results)-1]
}

// HistoryEntry is an immutable record of a task that reached a terminal
// state. Every entry keeps the final checkpoint so no terminal state is
// left unexplained.
type HistoryEntry struct {
	Task       task.Task              `json:"task"`
	Status     task.Status            `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint"`
	Result     *contract.Result       `json:"verification_result,omitempty"`
	Contract   contract.Kind          `json:"contract_type"`
	FinishedAt time.Time              `json:"finished_at"`
}

// ReviewEntry is advisory output kept for later human review.
type ReviewEntry struct {
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	Executor    string    `json:"executor"`
	Output      string    `json:"output,omitempty"`
	Files       []string  `json:"files,omitempty"`
	LoggedAt    time.Time `json:"logged_at"`
}

// Record is the persisted session state.
type Record struct {
	SessionID     string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Owner         *Owner    `json:"owner,omitempty"`

	ActiveTask *ActiveTask `json:"active_task,omitempty"`

	// AttemptsLog is append-only. Entries are closed before being appended
	// and are never rewritten.
	AttemptsLog []task.Attempt `json:"attempts_log"`

	FallbackOverrides fallback.Overrides `json:"fallback_chain_overrides,omitempty"`

	History   []HistoryEntry `json:"history,omitempty"`
	ReviewLog []ReviewEntry  `json:"review_log,omitempty"`
}

// AttemptsFor returns the logged attempts for one task, oldest first.
func (r *Record) AttemptsFor(taskID string) []task.Attempt {
	var out []task.Attempt
	for _, a := range r.AttemptsLog {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out
}

// FindHistory returns the newest history entry for a task id.
func (r *Record) FindHistory(taskID string) (HistoryEntry, bool) {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Task.ID == taskID {
			return r.History[i], true
		}
	}
	return HistoryEntry{}, false
}

// IsStale reports whether the heartbeat is older than timeout at now.
func (r *Record) IsStale(now time.Time, timeout time.Duration) bool {
	if r.LastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(r.LastHeartbeat) > timeout
}

// Session is a loaded record plus the in-memory flags computed at startup.
type Session struct {
	Record

	// Stale is true when the loaded record's heartbeat had expired.
	Stale bool `json:"-"`
	// Resumed is true when the record existed before this process started.
	Resumed bool `json:"-"`
	// Degraded is true while writes to the backend are failing.
	Degraded bool `json:"-"`
}

// HasActiveTask reports whether a task is owned by the session.
func (s *Session) HasActiveTask() bool {
	return s != nil && s.ActiveTask != nil && s.ActiveTask.Task != nil
}
