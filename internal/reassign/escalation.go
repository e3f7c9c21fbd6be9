package reassign

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/task"
)

// DecompositionHint accompanies escalations caused by repeated context
// overflow.
const DecompositionHint = "task too large, recommend decomposition"

// Choice is an operator's recovery option after escalation.
type Choice string

const (
	ChoiceRetryDifferentApproach Choice = "retry_different_approach"
	ChoiceTakeOver               Choice = "take_over"
	ChoiceSkip                   Choice = "skip"
	ChoiceAbandon                Choice = "abandon"
)

// Choices returns the escalation options in prompt order.
func Choices() []Choice {
	return []Choice{ChoiceRetryDifferentApproach, ChoiceTakeOver, ChoiceSkip, ChoiceAbandon}
}

// Describe returns the one-line explanation shown next to a choice.
func (c Choice) Describe() string {
	switch c {
	case ChoiceRetryDifferentApproach:
		return "walk the chain again with a new approach note"
	case ChoiceTakeOver:
		return "take over manually; print the full resume context"
	case ChoiceSkip:
		return "skip this task and continue the batch"
	case ChoiceAbandon:
		return "abandon the whole batch"
	default:
		return ""
	}
}

// ParseChoice parses a choice name.
func ParseChoice(s string) (Choice, error) {
	for _, c := range Choices() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errors.ErrInvalidDecision, s)
}

// Escalation is everything the operator needs to decide without
// reconstructing context.
type Escalation struct {
	TaskID      string                    `json:"task_id"`
	Task        task.Task                 `json:"task"`
	Category    fallback.Category         `json:"category"`
	Chain       []string                  `json:"chain"`
	Attempts    []task.Attempt            `json:"attempts"`
	LastOutcome task.Outcome              `json:"last_outcome"`
	Hint        string                    `json:"hint,omitempty"`
	Checkpoint  *checkpoint.Checkpoint    `json:"checkpoint"`
	Summary     checkpoint.Summary        `json:"summary"`
	Resume      *checkpoint.ResumeContext `json:"resume_context"`
	Round       int                       `json:"round"`
}

// Reason renders a one-line escalation reason.
func (e Escalation) Reason() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d attempt(s) across %d executor(s) failed; last outcome %s", len(e.Attempts), len(e.Chain), e.LastOutcome)
	if e.Hint != "" {
		b.WriteString(" (" + e.Hint + ")")
	}
	return b.String()
}

// Response is the operator's answer.
type Response struct {
	Choice Choice `json:"choice"`

	// Approach is the free-text note for ChoiceRetryDifferentApproach.
	Approach string `json:"approach,omitempty"`
}

// Escalator presents an escalation to the operator.
type Escalator interface {
	Escalate(ctx context.Context, e Escalation) (Response, error)
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, e Escalation) (Response, error)

// Escalate implements Escalator.
func (f EscalatorFunc) Escalate(ctx context.Context, e Escalation) (Response, error) {
	return f(ctx, e)
}
