// Package executor adapts external Task Executors and Quality Checkers to
// the orchestration core.
//
// Executors receive a [Request] (task description plus optional resume
// context) and report a [Response]. They never write session state; the
// core applies the progress they report.
package executor

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/errors"
)

// Request is the task delegation input.
type Request struct {
	TaskID          string                    `json:"task_id"`
	AttemptID       string                    `json:"attempt_id"`
	TaskDescription string                    `json:"task_description"`
	ResumeContext   *checkpoint.ResumeContext `json:"resume_context,omitempty"`

	// FreshContext asks the executor to start a new execution context
	// instead of continuing its previous one.
	FreshContext bool `json:"fresh_context,omitempty"`
}

// Status is the executor's own verdict.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Response is the task delegation output.
type Response struct {
	Status       Status   `json:"status"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Error        string   `json:"error,omitempty"`

	// ContextExhausted is set when the executor ran out of context.
	ContextExhausted bool `json:"context_exhausted,omitempty"`

	// Progress reported for the checkpoint.
	StepsCompleted []checkpoint.StepReport `json:"steps_completed,omitempty"`
	Decisions      []checkpoint.Decision   `json:"decisions,omitempty"`
	Blockers       []string                `json:"blockers,omitempty"`
	PartialWork    string                  `json:"partial_work,omitempty"`

	// Output is free text kept for advisory review.
	Output string `json:"output,omitempty"`
}

// Progress converts the reported progress into a checkpoint update.
func (r Response) Progress() checkpoint.Progress {
	p := checkpoint.Progress{
		StepsCompleted: r.StepsCompleted,
		Blockers:       r.Blockers,
		PartialWork:    r.PartialWork,
	}
	for _, d := range r.Decisions {
		p.Decisions = append(p.Decisions, checkpoint.Decision{Decision: d.Decision, Rationale: d.Rationale})
	}
	return p
}

// Executor performs delegated work.
type Executor interface {
	Name() string
	Execute(ctx context.Context, req Request) (Response, error)
}

// Registry maps executor ids to executors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates a registry holding executors.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an executor under its name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Name()] = e
}

// Get returns the executor registered under name.
func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	if !ok {
		return nil, errors.NewTaskError("resolve executor", errors.ErrExecutorNotRegistered).
			WithExecutor(name).
			WithClass(errors.ClassCrash)
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[name]
	return ok
}

// Names returns the registered ids in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Missing returns the ids in chain that are not registered.
func (r *Registry) Missing(chain []string) []string {
	var out []string
	for _, id := range chain {
		if !r.Has(id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
