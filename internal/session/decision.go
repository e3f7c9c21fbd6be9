package session

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/task"
)

// Decision is the operator's answer when a session starts with a prior
// active task.
type Decision string

const (
	DecisionResume     Decision = "resume"
	DecisionRestart    Decision = "restart"
	DecisionSwitchTask Decision = "switch_task"
	DecisionAbandon    Decision = "abandon"
)

// Decisions returns every resume decision in prompt order.
func Decisions() []Decision {
	return []Decision{DecisionResume, DecisionRestart, DecisionSwitchTask, DecisionAbandon}
}

// Describe returns the one-line explanation shown next to a decision.
func (d Decision) Describe() string {
	switch d {
	case DecisionResume:
		return "continue from the checkpoint with the next executor"
	case DecisionRestart:
		return "discard progress and start the task over"
	case DecisionSwitchTask:
		return "set this task aside (skipped) and work on something else"
	case DecisionAbandon:
		return "mark the task failed and stop"
	default:
		return ""
	}
}

// ParseDecision parses a decision name.
func ParseDecision(s string) (Decision, error) {
	for _, d := range Decisions() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errors.ErrInvalidDecision, s)
}

// ResumePrompt is everything the operator sees before choosing.
type ResumePrompt struct {
	SessionID     string             `json:"session_id"`
	Task          task.Task          `json:"task"`
	Attempts      []task.Attempt     `json:"attempts"`
	Checkpoint    checkpoint.Summary `json:"checkpoint"`
	Stale         bool               `json:"stale"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`

	// StaleFiles lists checkpointed files modified since the checkpoint.
	StaleFiles []string `json:"stale_files,omitempty"`
}

// Chooser asks the operator for a resume decision.
type Chooser interface {
	ChooseResume(ctx context.Context, p ResumePrompt) (Decision, error)
}

// Prompt builds the resume prompt for the session's active task.
func (m *Manager) Prompt(s *Session) (ResumePrompt, error) {
	if !s.HasActiveTask() {
		return ResumePrompt{}, errors.NewSessionError("build resume prompt", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	return ResumePrompt{
		SessionID:     s.SessionID,
		Task:          *s.ActiveTask.Task,
		Attempts:      s.AttemptsFor(s.ActiveTask.Task.ID),
		Checkpoint:    s.Summary(),
		Stale:         s.Stale,
		LastHeartbeat: s.LastHeartbeat,
	}, nil
}

// ResumeDecision presents the prior active task to the operator and returns
// their explicit choice. It never resumes on its own.
func (m *Manager) ResumeDecision(ctx context.Context, s *Session, p ResumePrompt, c Chooser) (Decision, error) {
	d, err := c.ChooseResume(ctx, p)
	if err != nil {
		return "", err
	}
	if _, perr := ParseDecision(string(d)); perr != nil {
		return "", perr
	}
	m.logger.WithSession(s.SessionID).WithTask(p.Task.ID).Info("resume decision",
		"decision", string(d),
		"stale", p.Stale,
		"stale_files", len(p.StaleFiles),
	)
	return d, nil
}

// ApplyDecision updates the record for d and returns the task the caller
// should act on. Resume and restart keep the task active; switch_task and
// abandon move it to history.
func (m *Manager) ApplyDecision(ctx context.Context, s *Session, d Decision) (*task.Task, error) {
	if !s.HasActiveTask() {
		return nil, errors.NewSessionError("apply resume decision", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	t := s.ActiveTask.Task

	switch d {
	case DecisionResume:
		return t, m.Touch(ctx, s)
	case DecisionRestart:
		m.logger.WithSession(s.SessionID).WithTask(t.ID).Info("discarding checkpoint for restart",
			"completed_steps", s.Summary().CompletedCount,
		)
		s.ActiveTask.Checkpoint = nil
		s.ActiveTask.Results = nil
		m.resetRound(s)
		return t, m.Touch(ctx, s)
	case DecisionSwitchTask:
		entry, err := m.Finish(ctx, s, task.StatusSkipped, "set aside by operator")
		return &entry.Task, err
	case DecisionAbandon:
		entry, err := m.Finish(ctx, s, task.StatusFailed, "abandoned by operator")
		return &entry.Task, err
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidDecision, d)
	}
}
