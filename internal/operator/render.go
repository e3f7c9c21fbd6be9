package operator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/task"
	"github.com/Iron-Ham/handoff/internal/util"
)

const (
	errorColumn    = 60
	descriptionLen = 120
	lineWidth      = 100
)

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

func outcomeStyle(o task.Outcome) func(...string) string {
	switch o {
	case task.OutcomeSuccess:
		return successStyle.Render
	case task.OutcomeRateLimited, task.OutcomeContextOverflow:
		return warningStyle.Render
	default:
		return errorStyle.Render
	}
}

// RenderAttempts renders the attempts log, one line per attempt.
func RenderAttempts(attempts []task.Attempt) string {
	if len(attempts) == 0 {
		return mutedStyle.Render("  (no attempts yet)")
	}
	var b strings.Builder
	for i, a := range attempts {
		outcome := string(a.Outcome)
		if outcome == "" {
			outcome = "open"
		}
		fresh := ""
		if a.FreshContext {
			fresh = " fresh"
		}
		fmt.Fprintf(&b, "  %2d. %-14s %s retry %d%s",
			i+1,
			util.TruncateString(a.Executor, 14),
			outcomeStyle(a.Outcome)(fmt.Sprintf("%-20s", outcome)),
			a.RetryCount,
			fresh,
		)
		if a.Error != "" {
			b.WriteString("  " + mutedStyle.Render(util.TruncateString(util.SingleLine(a.Error), errorColumn)))
		}
		if i < len(attempts)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// RenderSummary renders a checkpoint digest.
func RenderSummary(s checkpoint.Summary) string {
	lines := []string{
		field("Phase", string(s.Phase)),
		field("Steps", fmt.Sprintf("%d completed, %d pending", s.CompletedCount, s.PendingCount)),
	}
	if s.CurrentStep != "" {
		lines = append(lines, field("Current step", s.CurrentStep))
	}
	if s.PartialWork != "" {
		lines = append(lines, field("Partial work", s.PartialWork))
	}
	if s.LastDecision != "" {
		lines = append(lines, field("Last decision", s.LastDecision))
	}
	if s.Blockers > 0 {
		lines = append(lines, field("Blockers", warningStyle.Render(fmt.Sprintf("%d", s.Blockers))))
	}
	if s.Reason != "" {
		lines = append(lines, field("Interrupted", string(s.Reason)))
	}
	if !s.LastUpdatedAt.IsZero() {
		lines = append(lines, field("Updated", s.LastUpdatedAt.Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n")
}

// RenderResumePrompt renders what the operator sees when a session starts
// with an unfinished task.
func RenderResumePrompt(p session.ResumePrompt) string {
	heartbeat := p.LastHeartbeat.Format(time.RFC3339)
	if p.Stale {
		heartbeat += " " + warningStyle.Render("(stale)")
	}
	head := []string{
		field("Session", p.SessionID),
		field("Task", p.Task.ID),
		field("Description", util.TruncateString(util.SingleLine(p.Task.Description), descriptionLen)),
		field("Heartbeat", heartbeat),
	}
	if len(p.StaleFiles) > 0 {
		head = append(head, field("Changed files", warningStyle.Render(strings.Join(p.StaleFiles, ", "))))
	}

	return strings.Join([]string{
		titleStyle.Render("Unfinished task found"),
		boxStyle.Render(strings.Join(head, "\n")),
		titleStyle.Render("Attempts"),
		RenderAttempts(p.Attempts),
		titleStyle.Render("Checkpoint"),
		boxStyle.Render(RenderSummary(p.Checkpoint)),
	}, "\n")
}

// RenderEscalation renders an exhausted fallback chain for the operator.
func RenderEscalation(e reassign.Escalation) string {
	head := []string{
		field("Task", e.TaskID),
		field("Description", util.TruncateString(util.SingleLine(e.Task.Description), descriptionLen)),
		field("Category", string(e.Category)),
		field("Chain", strings.Join(e.Chain, " → ")),
		field("Reason", e.Reason()),
	}
	if e.Round > 1 {
		head = append(head, field("Round", fmt.Sprintf("%d", e.Round)))
	}
	if e.Hint != "" {
		head = append(head, field("Hint", warningStyle.Render(e.Hint)))
	}

	return strings.Join([]string{
		errorStyle.Bold(true).Render("Escalation: every executor in the chain failed"),
		boxStyle.Render(strings.Join(head, "\n")),
		titleStyle.Render("Attempts"),
		RenderAttempts(e.Attempts),
		titleStyle.Render("Checkpoint"),
		boxStyle.Render(RenderSummary(e.Summary)),
	}, "\n")
}

// RenderResumeContext renders the full resume context as indented JSON,
// for manual takeover.
func RenderResumeContext(rc *checkpoint.ResumeContext) string {
	if rc == nil {
		return "{}"
	}
	b, err := json.MarshalIndent(rc, "", "  ")
	if err != nil {
		return fmt.Sprintf("resume context unavailable: %v", err)
	}
	return string(b)
}
