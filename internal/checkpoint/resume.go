package checkpoint

import (
	"github.com/Iron-Ham/handoff/internal/task"
)

// ResumeContext is the bundle handed to the next executor invocation.
// Settled decisions must not be revisited. Files in FilesToReverify changed
// after the checkpoint was written and must be re-read before continuing.
type ResumeContext struct {
	TaskID            string          `json:"task_id"`
	Description       string          `json:"description"`
	Phase             Phase           `json:"phase"`
	Reason            Reason          `json:"reason,omitempty"`
	CompletedSteps    []CompletedStep `json:"completed_steps"`
	PendingSteps      []string        `json:"pending_steps"`
	SettledDecisions  []Decision      `json:"settled_decisions,omitempty"`
	CurrentStep       *CurrentStep    `json:"current_step,omitempty"`
	Blockers          []string        `json:"blockers,omitempty"`
	FilesToReverify   []string        `json:"files_to_reverify,omitempty"`
	PreviousExecutors []string        `json:"previous_executors,omitempty"`
	Stale             bool            `json:"stale"`
}

// BuildResumeContext assembles the resume bundle for t from cp. Referenced
// files are stat'ed to find stale ones; if that fails every referenced
// file is flagged for re-verification.
func (m *Manager) BuildResumeContext(cp *Checkpoint, t *task.Task) *ResumeContext {
	c := cp.Clone()
	rc := &ResumeContext{
		TaskID:            t.ID,
		Description:       t.Description,
		Phase:             c.Phase,
		Reason:            c.Metadata.Reason,
		CompletedSteps:    c.CompletedSteps,
		PendingSteps:      c.PendingSteps,
		SettledDecisions:  c.Decisions,
		CurrentStep:       c.CurrentStep,
		Blockers:          c.Blockers,
		PreviousExecutors: c.Metadata.PreviousExecutors,
	}

	stale, err := m.Staleness(cp)
	if err != nil {
		m.logger.Warn("could not check checkpoint staleness",
			"task_id", t.ID,
			"error", err.Error(),
		)
		stale = cp.ReferencedFiles()
	}
	rc.FilesToReverify = stale
	rc.Stale = len(stale) > 0
	return rc
}

// Empty reports whether the context carries no progress at all.
func (rc *ResumeContext) Empty() bool {
	return rc == nil || (len(rc.CompletedSteps) == 0 && rc.CurrentStep == nil && len(rc.SettledDecisions) == 0)
}
