// Package reassign is the failure-aware state machine that delegates a task
// to executors and recovers from failures.
//
// Every attempt ends in a [task.Outcome]. One transition table maps the
// outcome, plus the counters of the current executor, to the next
// [Action]: finish, retry the same executor after a backoff delay, restart
// it in a fresh context, switch to the next executor in the fallback chain,
// or escalate to the operator once the chain is exhausted.
package reassign

import (
	"regexp"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/executor"
	"github.com/Iron-Ham/handoff/internal/task"
)

// Action is what the controller does after an attempt.
type Action int

const (
	ActionDone Action = iota
	ActionRetry
	ActionFreshContext
	ActionSwitch
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionFreshContext:
		return "fresh_context"
	case ActionSwitch:
		return "switch_executor"
	case ActionEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// State is the per-executor bookkeeping the transition table reads.
type State struct {
	Retries       int // rate-limit retries already made on this executor
	MaxRetries    int
	FreshAttempts int // fresh-context restarts already made on this executor
	MaxFresh      int
	HasNext       bool // an untried executor remains in the chain
}

func (s State) switchOrEscalate() Action {
	if s.HasNext {
		return ActionSwitch
	}
	return ActionEscalate
}

type transition struct {
	class  errors.Class
	reason checkpoint.Reason
	next   func(State) Action
}

var transitions = map[task.Outcome]transition{
	task.OutcomeSuccess: {
		class: errors.ClassNone,
		next:  func(State) Action { return ActionDone },
	},
	task.OutcomeRateLimited: {
		class:  errors.ClassTransient,
		reason: checkpoint.ReasonRateLimited,
		next: func(s State) Action {
			if s.Retries < s.MaxRetries {
				return ActionRetry
			}
			return s.switchOrEscalate()
		},
	},
	task.OutcomeContextOverflow: {
		class:  errors.ClassFreshContext,
		reason: checkpoint.ReasonContextOverflow,
		next: func(s State) Action {
			if s.FreshAttempts < s.MaxFresh {
				return ActionFreshContext
			}
			return s.switchOrEscalate()
		},
	},
	task.OutcomeVerificationFailed: {
		class:  errors.ClassVerification,
		reason: checkpoint.ReasonVerificationFailed,
		next:   State.switchOrEscalate,
	},
	task.OutcomeCrashed: {
		class:  errors.ClassCrash,
		reason: checkpoint.ReasonCrashed,
		next:   State.switchOrEscalate,
	},
}

// Decide returns the action for an outcome. Unknown outcomes are handled
// as crashes.
func Decide(o task.Outcome, s State) Action {
	t, ok := transitions[o]
	if !ok {
		t = transitions[task.OutcomeCrashed]
	}
	return t.next(s)
}

// ClassOf returns the failure class of an outcome.
func ClassOf(o task.Outcome) errors.Class {
	if t, ok := transitions[o]; ok {
		return t.class
	}
	return errors.ClassCrash
}

// SnapshotReason returns the checkpoint reason recorded for an outcome.
func SnapshotReason(o task.Outcome) checkpoint.Reason {
	return transitions[o].reason
}

var (
	rateLimitSignature = regexp.MustCompile(`(?i)(rate[ _-]?limit|too many requests|\b429\b|quota exceeded|overloaded)`)
	overflowSignature  = regexp.MustCompile(`(?i)(context[ _-]?(window|length|overflow|exhausted)|maximum context|token limit|prompt is too long)`)
)

// ClassifyExecution maps an executor's response or error to an outcome.
// Verification is not considered here: a successful execution is only
// provisionally OutcomeSuccess until its contract passes. Any abnormal
// termination that is neither a rate limit nor a context overflow is a
// crash.
func ClassifyExecution(resp executor.Response, err error) task.Outcome {
	if err != nil {
		if errors.IsRetryable(err) {
			return task.OutcomeRateLimited
		}
		if errors.ClassOf(err) == errors.ClassFreshContext {
			return task.OutcomeContextOverflow
		}
		return classifyText(err.Error())
	}
	if resp.ContextExhausted {
		return task.OutcomeContextOverflow
	}
	if resp.Status == executor.StatusSuccess {
		return task.OutcomeSuccess
	}
	return classifyText(resp.Error)
}

func classifyText(msg string) task.Outcome {
	switch {
	case rateLimitSignature.MatchString(msg):
		return task.OutcomeRateLimited
	case overflowSignature.MatchString(msg):
		return task.OutcomeContextOverflow
	default:
		return task.OutcomeCrashed
	}
}
