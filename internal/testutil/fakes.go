package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/executor"
)

// Step is one scripted executor reply.
type Step struct {
	Response executor.Response
	Err      error

	// Block makes Execute wait for ctx cancellation before replying.
	Block bool
}

// Succeed returns a successful step.
func Succeed(files ...string) Step {
	return Step{Response: executor.Response{Status: executor.StatusSuccess, FilesChanged: files}}
}

// Fail returns a failed step with the given error text.
func Fail(msg string) Step {
	return Step{Response: executor.Response{Status: executor.StatusFailure, Error: msg}}
}

// RateLimited returns a failed step that classifies as a rate limit.
func RateLimited() Step {
	return Fail("429 Too Many Requests: rate limit exceeded")
}

// Overflow returns a step that reports context exhaustion.
func Overflow() Step {
	return Step{Response: executor.Response{Status: executor.StatusFailure, ContextExhausted: true, Error: "context window exhausted"}}
}

// ScriptedExecutor replays a fixed list of steps. Once the script runs
// out the last step repeats. Requests are recorded.
type ScriptedExecutor struct {
	name string

	mu       sync.Mutex
	steps    []Step
	requests []executor.Request
}

// NewScriptedExecutor creates an executor that replays steps.
func NewScriptedExecutor(name string, steps ...Step) *ScriptedExecutor {
	return &ScriptedExecutor{name: name, steps: steps}
}

// Name implements executor.Executor.
func (e *ScriptedExecutor) Name() string { return e.name }

// Execute implements executor.Executor.
func (e *ScriptedExecutor) Execute(ctx context.Context, req executor.Request) (executor.Response, error) {
	e.mu.Lock()
	n := len(e.requests)
	e.requests = append(e.requests, req)
	var step Step
	switch {
	case len(e.steps) == 0:
		step = Fail("no scripted reply")
	case n < len(e.steps):
		step = e.steps[n]
	default:
		step = e.steps[len(e.steps)-1]
	}
	e.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return step.Response, ctx.Err()
	}
	return step.Response, step.Err
}

// Requests returns the requests received so far.
func (e *ScriptedExecutor) Requests() []executor.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executor.Request(nil), e.requests...)
}

// Calls returns how many times Execute ran.
func (e *ScriptedExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// ScriptedChecker answers quality checks per executor. Executors without
// a configured answer pass.
type ScriptedChecker struct {
	mu      sync.Mutex
	results map[string]contract.Status
	errs    map[string]error
	calls   []string
}

// NewScriptedChecker creates a checker where every executor passes.
func NewScriptedChecker() *ScriptedChecker {
	return &ScriptedChecker{
		results: make(map[string]contract.Status),
		errs:    make(map[string]error),
	}
}

// FailFor makes every check of executor fail.
func (c *ScriptedChecker) FailFor(executor string) *ScriptedChecker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[executor] = contract.StatusFail
	return c
}

// ErrorFor makes every check of executor return err.
func (c *ScriptedChecker) ErrorFor(executor string, err error) *ScriptedChecker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[executor] = err
	return c
}

// Check implements contract.Checker.
func (c *ScriptedChecker) Check(ctx context.Context, executor string, crit contract.Criterion) (contract.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.CheckResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, executor+" "+crit.String())
	if err, ok := c.errs[executor]; ok {
		return contract.CheckResult{}, err
	}
	if st, ok := c.results[executor]; ok {
		return contract.CheckResult{Status: st, Detail: fmt.Sprintf("%s failed", crit.Activity)}, nil
	}
	return contract.CheckResult{Status: contract.StatusPass}, nil
}

// Calls returns the checks run so far as "executor criterion" strings.
func (c *ScriptedChecker) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// InstantSleeper records backoff delays without waiting.
type InstantSleeper struct {
	mu     sync.Mutex
	delays []time.Duration

	// OnSleep, if set, runs before Sleep returns.
	OnSleep func(d time.Duration)
}

// Sleep records d and returns immediately unless ctx is done.
func (s *InstantSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.OnSleep
	s.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

// Delays returns the recorded delays.
func (s *InstantSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
