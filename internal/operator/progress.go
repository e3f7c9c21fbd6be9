package operator

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/task"
	"github.com/Iron-Ham/handoff/internal/util"
)

// RenderEvent renders one orchestration event as a progress line. It
// reports false for events that are not worth showing.
func RenderEvent(e event.Event) (string, bool) {
	switch ev := e.(type) {
	case event.TaskDelegatedEvent:
		line := fmt.Sprintf("→ %s: delegated to %s", ev.TaskID, ev.Executor)
		if ev.RetryCount > 0 {
			line += fmt.Sprintf(" (retry %d)", ev.RetryCount)
		}
		if ev.FreshContext {
			line += " in a fresh context"
		}
		return line, true
	case event.AttemptClosedEvent:
		a := ev.Attempt
		line := fmt.Sprintf("  %s: %s", a.Executor, outcomeStyle(a.Outcome)(string(a.Outcome)))
		if a.Error != "" {
			line += " " + mutedStyle.Render(util.TruncateString(util.SingleLine(a.Error), errorColumn))
		}
		return line, true
	case event.RetryScheduledEvent:
		return warningStyle.Render(fmt.Sprintf("  rate limited, retry %d on %s in %s", ev.RetryCount, ev.Executor, ev.Delay.Round(time.Second))), true
	case event.ExecutorSwitchedEvent:
		return fmt.Sprintf("  switching %s → %s after %s", ev.From, ev.To, ev.Reason), true
	case event.EscalatedEvent:
		return errorStyle.Render(fmt.Sprintf("! %s: chain exhausted after %d attempts", ev.TaskID, ev.Attempts)), true
	case event.TaskCancelledEvent:
		return warningStyle.Render(fmt.Sprintf("✗ %s: cancelled, checkpoint saved", ev.TaskID)), true
	case event.TaskFinishedEvent:
		return fmt.Sprintf("%s %s: %s", statusMark(ev.Status), ev.TaskID, ev.Reason), true
	case event.AdvisoryLoggedEvent:
		return mutedStyle.Render(fmt.Sprintf("  %s: output logged for review", ev.TaskID)), true
	case event.PersistenceDegradedEvent:
		if ev.Degraded {
			line := warningStyle.Render("! persistence unavailable, state kept in memory: " + util.SingleLine(ev.Err))
			return util.TruncateANSI(line, lineWidth), true
		}
		return successStyle.Render("  persistence recovered"), true
	}
	return "", false
}

func statusMark(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return successStyle.Render("✓")
	case task.StatusFailed:
		return errorStyle.Render("✗")
	default:
		return warningStyle.Render("–")
	}
}

// RenderHistory renders finished tasks, newest first.
func RenderHistory(entries []session.HistoryEntry) string {
	if len(entries) == 0 {
		return mutedStyle.Render("  (no finished tasks)")
	}
	lines := make([]string, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		h := entries[i]
		line := fmt.Sprintf("  %s %-12s %-10s %s",
			statusMark(h.Status),
			util.TruncateString(h.Task.ID, 12),
			h.Status,
			util.TruncateString(util.SingleLine(h.Task.Description), 50),
		)
		if h.Reason != "" {
			line += " " + mutedStyle.Render("("+h.Reason+")")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
