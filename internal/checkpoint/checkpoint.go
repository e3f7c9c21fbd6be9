// Package checkpoint captures incremental progress on an in-progress task so
// a different execution context can resume it without replaying finished work.
//
// A [Checkpoint] is small by construction: completed steps are kept in a
// sliding window, free-text fields are truncated, and list lengths are
// capped. After every mutation the [Manager] compacts the checkpoint until
// its JSON encoding fits the configured byte budget.
//
// The Manager is the only writer. Executors report progress as plain data
// ([Progress]) and the orchestration core applies it here.
package checkpoint

import (
	"encoding/json"
	"slices"
	"time"
)

// Phase describes where a task is in its lifecycle.
type Phase string

const (
	PhaseStarted     Phase = "started"
	PhaseWorking     Phase = "working"
	PhaseInterrupted Phase = "interrupted"
	PhaseResuming    Phase = "resuming"
	PhaseVerifying   Phase = "verifying"
)

// Reason records why the checkpoint was last snapshotted.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonRateLimited        Reason = "rate_limited"
	ReasonContextOverflow    Reason = "context_overflow"
	ReasonCrashed            Reason = "crashed"
	ReasonReassigned         Reason = "reassigned"
	ReasonVerificationFailed Reason = "verification_failed"
	ReasonCancelled          Reason = "cancelled"
)

// capturesPartialWork reports whether a snapshot for this reason records
// in-flight progress on the current step.
func (r Reason) capturesPartialWork() bool {
	return r == ReasonRateLimited || r == ReasonCrashed || r == ReasonCancelled
}

// CompletedStep is a finished unit of work.
type CompletedStep struct {
	Step         string    `json:"step"`
	FilesTouched []string  `json:"files_touched,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// CurrentStep is the step in flight when the checkpoint was last written.
type CurrentStep struct {
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
	PartialWork string    `json:"partial_work,omitempty"`
}

// Decision is a settled choice the next executor must not revisit.
type Decision struct {
	Decision  string    `json:"decision"`
	Rationale string    `json:"rationale,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata describes the checkpoint itself.
type Metadata struct {
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	LastUpdatedAt     time.Time `json:"last_updated_at"`
	Reason            Reason    `json:"reason,omitempty"`
	PreviousExecutors []string  `json:"previous_executors,omitempty"`
}

// Checkpoint is the bounded working memory of an in-progress task.
type Checkpoint struct {
	TaskID         string          `json:"task_id"`
	Phase          Phase           `json:"phase"`
	CompletedSteps []CompletedStep `json:"completed_steps"`
	PendingSteps   []string        `json:"pending_steps"`
	CurrentStep    *CurrentStep    `json:"current_step"`
	Decisions      []Decision      `json:"decisions,omitempty"`
	Blockers       []string        `json:"blockers,omitempty"`
	Metadata       Metadata        `json:"metadata"`
}

// Size returns the length of the checkpoint's JSON encoding in bytes.
func (c *Checkpoint) Size() int {
	data, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return len(data)
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.CompletedSteps = make([]CompletedStep, len(c.CompletedSteps))
	for i, s := range c.CompletedSteps {
		s.FilesTouched = slices.Clone(s.FilesTouched)
		out.CompletedSteps[i] = s
	}
	out.PendingSteps = slices.Clone(c.PendingSteps)
	out.Decisions = slices.Clone(c.Decisions)
	out.Blockers = slices.Clone(c.Blockers)
	out.Metadata.PreviousExecutors = slices.Clone(c.Metadata.PreviousExecutors)
	if c.CurrentStep != nil {
		cs := *c.CurrentStep
		out.CurrentStep = &cs
	}
	return &out
}

// ReferencedFiles returns the distinct files touched by completed steps,
// in first-seen order.
func (c *Checkpoint) ReferencedFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, s := range c.CompletedSteps {
		for _, f := range s.FilesTouched {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}

// LastDecision returns the most recent decision, or nil.
func (c *Checkpoint) LastDecision() *Decision {
	if len(c.Decisions) == 0 {
		return nil
	}
	d := c.Decisions[len(c.Decisions)-1]
	return &d
}

// Summary is the operator-facing digest of a checkpoint.
type Summary struct {
	Phase          Phase     `json:"phase"`
	CompletedCount int       `json:"completed_count"`
	PendingCount   int       `json:"pending_count"`
	CurrentStep    string    `json:"current_step,omitempty"`
	PartialWork    string    `json:"partial_work,omitempty"`
	LastDecision   string    `json:"last_decision,omitempty"`
	Blockers       int       `json:"blockers"`
	Reason         Reason    `json:"reason,omitempty"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
}

// Summarize returns the digest shown in status output and escalation prompts.
func (c *Checkpoint) Summarize() Summary {
	if c == nil {
		return Summary{}
	}
	s := Summary{
		Phase:          c.Phase,
		CompletedCount: len(c.CompletedSteps),
		PendingCount:   len(c.PendingSteps),
		Blockers:       len(c.Blockers),
		Reason:         c.Metadata.Reason,
		LastUpdatedAt:  c.Metadata.LastUpdatedAt,
	}
	if c.CurrentStep != nil {
		s.CurrentStep = c.CurrentStep.Description
		s.PartialWork = c.CurrentStep.PartialWork
	}
	if d := c.LastDecision(); d != nil {
		s.LastDecision = d.Decision
	}
	return s
}
