// Package orchestrator ties the handoff components together: it opens a
// session, asks the operator what to do with an unfinished task, and drives
// submitted tasks one at a time through contract generation, fallback
// resolution and the reassignment controller.
package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/executor"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/task"
)

// Components are the collaborators an Engine coordinates. Sessions,
// Checkpoints, Contracts, Resolver and Controller are required.
type Components struct {
	Sessions    *session.Manager
	Checkpoints *checkpoint.Manager
	Contracts   *contract.Engine
	Resolver    *fallback.Resolver
	Registry    *executor.Registry
	Controller  *reassign.Controller

	Chooser   session.Chooser
	Escalator reassign.Escalator

	Bus    *event.Bus
	Logger *logging.Logger

	// NewTaskID generates ids for submitted tasks that have none.
	NewTaskID func() string
}

// Engine is the single-threaded orchestration loop of one session. Only
// Cancel may be called concurrently with a running task.
type Engine struct {
	sessions    *session.Manager
	checkpoints *checkpoint.Manager
	contracts   *contract.Engine
	resolver    *fallback.Resolver
	registry    *executor.Registry
	controller  *reassign.Controller
	chooser     session.Chooser
	escalator   reassign.Escalator
	bus         *event.Bus
	logger      *logging.Logger
	newTaskID   func() string

	session *session.Session

	mu      sync.Mutex
	cancel  context.CancelFunc
	closers []func() error
}

// New creates an Engine from its components.
func New(c Components) (*Engine, error) {
	if c.Sessions == nil || c.Checkpoints == nil || c.Contracts == nil || c.Resolver == nil || c.Controller == nil {
		return nil, errors.NewValidationError("engine is missing a required component").WithField("components")
	}
	if c.Logger == nil {
		c.Logger = logging.NopLogger()
	}
	if c.Registry == nil {
		c.Registry = executor.NewRegistry()
	}
	if c.NewTaskID == nil {
		c.NewTaskID = uuid.NewString
	}
	return &Engine{
		sessions:    c.Sessions,
		checkpoints: c.Checkpoints,
		contracts:   c.Contracts,
		resolver:    c.Resolver,
		registry:    c.Registry,
		controller:  c.Controller,
		chooser:     c.Chooser,
		escalator:   c.Escalator,
		bus:         c.Bus,
		logger:      c.Logger,
		newTaskID:   c.NewTaskID,
	}, nil
}

// Sessions returns the session manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Bus returns the event bus, which may be nil.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Session returns the open session, or nil before Open.
func (e *Engine) Session() *session.Session { return e.session }

// Checkpoints returns the checkpoint manager.
func (e *Engine) Checkpoints() *checkpoint.Manager { return e.checkpoints }

// Contracts returns the contract engine.
func (e *Engine) Contracts() *contract.Engine { return e.contracts }

// Resolver returns the fallback resolver.
func (e *Engine) Resolver() *fallback.Resolver { return e.resolver }

// onClose registers cleanup run by Close in reverse order.
func (e *Engine) onClose(f func() error) {
	e.mu.Lock()
	e.closers = append(e.closers, f)
	e.mu.Unlock()
}

// Close releases the resources acquired when the engine was built.
func (e *Engine) Close() error {
	e.mu.Lock()
	closers := e.closers
	e.closers = nil
	e.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open starts (or reloads) the session with the given id. An empty id
// selects the default session.
func (e *Engine) Open(ctx context.Context, id string) (*session.Session, error) {
	s, err := e.sessions.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	e.session = s
	return s, nil
}

// Takeover claims another session whose heartbeat expired and makes it the
// open session. Its active task, if any, still goes through Resume.
func (e *Engine) Takeover(ctx context.Context, id string) (*session.Session, error) {
	s, err := e.sessions.ClaimStale(ctx, id)
	if err != nil {
		return nil, err
	}
	e.session = s
	return s, nil
}

// ResumeOutcome reports how an unfinished task was handled at startup.
type ResumeOutcome struct {
	Decision session.Decision
	Task     *task.Task
	Prompt   session.ResumePrompt

	// Report is set when the task was run again (resume or restart).
	Report *reassign.Report
}

// Resume handles a task left active by a previous run. The operator is
// always asked; the task is never resumed silently. It returns nil when
// the session has no active task.
func (e *Engine) Resume(ctx context.Context) (*ResumeOutcome, error) {
	s, err := e.open()
	if err != nil {
		return nil, err
	}
	if !s.HasActiveTask() {
		return nil, nil
	}
	if e.chooser == nil {
		return nil, errors.NewSessionError("resume decision needs an operator", errors.ErrInvalidDecision).WithSessionID(s.SessionID)
	}

	p, err := e.sessions.Prompt(s)
	if err != nil {
		return nil, err
	}
	log := e.logger.WithSession(s.SessionID).WithTask(p.Task.ID)
	if cp := s.ActiveTask.Checkpoint; cp != nil {
		stale, serr := e.checkpoints.Staleness(cp)
		if serr != nil {
			log.Warn("could not stat checkpointed files", "error", serr.Error())
		}
		p.StaleFiles = stale
	}

	d, err := e.sessions.ResumeDecision(ctx, s, p, e.chooser)
	if err != nil {
		return nil, err
	}
	t, err := e.sessions.ApplyDecision(ctx, s, d)
	if err != nil {
		return nil, err
	}
	out := &ResumeOutcome{Decision: d, Task: t, Prompt: p}

	switch d {
	case session.DecisionRestart:
		active := s.ActiveTask
		active.Category, active.Chain = e.resolve(active.Task)
		if err := e.sessions.SetOverrides(ctx, s, e.resolver.ProjectOverrides()); err != nil {
			return out, err
		}
		if err := e.sessions.AttachContract(ctx, s, e.contracts.Generate(t.Description, t.ExpectedArtifacts)); err != nil {
			return out, err
		}
		fallthrough
	case session.DecisionResume:
		if s.ActiveTask.Contract == nil {
			if err := e.sessions.AttachContract(ctx, s, e.contracts.Generate(t.Description, t.ExpectedArtifacts)); err != nil {
				return out, err
			}
		}
		rep, err := e.run(ctx, s)
		out.Report = &rep
		return out, err
	default:
		return out, nil
	}
}

// Submit makes t the session's active task and drives it to a terminal
// status. It fails with ErrTaskInProgress if another task is active.
func (e *Engine) Submit(ctx context.Context, t *task.Task) (reassign.Report, error) {
	s, err := e.open()
	if err != nil {
		return reassign.Report{}, err
	}
	if t == nil {
		return reassign.Report{}, errors.NewValidationError("task is nil").WithField("task")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = e.newTaskID()
	}
	if s.HasActiveTask() {
		return reassign.Report{}, errors.NewTaskError("cannot submit task", errors.ErrTaskInProgress).
			WithTaskID(s.ActiveTask.Task.ID).
			WithClass(errors.ClassNone)
	}

	c := e.contracts.Generate(t.Description, t.ExpectedArtifacts)
	category, chain := e.resolve(t)
	createdBy := ""
	if len(chain) > 0 {
		createdBy = chain[0]
	}

	if err := e.sessions.SetOverrides(ctx, s, e.resolver.ProjectOverrides()); err != nil {
		return reassign.Report{}, err
	}
	err = e.sessions.Activate(ctx, s, &session.ActiveTask{
		Task:       t,
		Checkpoint: e.checkpoints.Create(t, createdBy),
		Contract:   c,
		Category:   category,
		Chain:      chain,
	})
	if err != nil {
		return reassign.Report{}, err
	}
	return e.run(ctx, s)
}

// BatchReport summarizes a RunBatch call.
type BatchReport struct {
	Reports []reassign.Report

	// Abandoned is set when the operator abandoned the batch.
	Abandoned bool
	// Remaining lists the ids of tasks that were not started.
	Remaining []string
}

// Counts returns the number of reports per terminal status.
func (b BatchReport) Counts() map[task.Status]int {
	out := make(map[task.Status]int)
	for _, r := range b.Reports {
		out[r.Status]++
	}
	return out
}

// RunBatch submits tasks one at a time. An abandon escalation stops the
// batch; cancelling ctx stops it after the current task is snapshotted.
func (e *Engine) RunBatch(ctx context.Context, tasks []*task.Task) (BatchReport, error) {
	var batch BatchReport
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			batch.Remaining = taskIDs(tasks[i:])
			return batch, err
		}
		rep, err := e.Submit(ctx, t)
		if err != nil {
			batch.Remaining = taskIDs(tasks[i+1:])
			return batch, err
		}
		batch.Reports = append(batch.Reports, rep)
		if rep.AbandonBatch {
			batch.Abandoned = true
			batch.Remaining = taskIDs(tasks[i+1:])
			e.logger.Warn("batch abandoned by operator",
				"task_id", rep.TaskID,
				"remaining", len(batch.Remaining),
			)
			return batch, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return batch, err
	}
	return batch, nil
}

// Cancel cancels the running task, if any. The task is snapshotted with
// reason cancelled and finished as skipped. It reports whether a task was
// running.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

func (e *Engine) open() (*session.Session, error) {
	if e.session == nil {
		return nil, errors.NewSessionError("no session is open", errors.ErrSessionNotFound)
	}
	return e.session, nil
}

func (e *Engine) resolve(t *task.Task) (fallback.Category, []string) {
	category, chain := e.resolver.Resolve(t.ExpectedArtifacts)
	if missing := e.registry.Missing(chain); len(missing) > 0 {
		e.logger.WithTask(t.ID).Warn("fallback chain names unregistered executors",
			"category", string(category),
			"missing", missing,
		)
	}
	return category, chain
}

func (e *Engine) run(ctx context.Context, s *session.Session) (reassign.Report, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	esc := e.escalator
	if esc == nil {
		esc = reassign.EscalatorFunc(func(context.Context, reassign.Escalation) (reassign.Response, error) {
			return reassign.Response{}, errors.ErrChainExhausted
		})
	}
	return e.controller.Run(taskCtx, s, esc)
}

func taskIDs(tasks []*task.Task) []string {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
