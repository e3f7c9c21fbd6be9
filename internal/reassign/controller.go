package reassign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/executor"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/task"
	"github.com/Iron-Ham/handoff/internal/util"
)

// DefaultMaxFreshAttempts is how many fresh-context restarts one executor
// gets after context overflow before the controller moves on.
const DefaultMaxFreshAttempts = 1

const (
	attemptErrorLimit = 300
	reviewSummaryLen  = 120

	reasonCompleted    = "verification contract satisfied"
	reasonAdvisory     = "advisory output logged for review"
	reasonTakenOver    = "taken over by operator"
	reasonSkipped      = "skipped by operator after escalation"
	reasonAbandoned    = "batch abandoned by operator"
	reasonCancelled    = "cancelled by operator"
	reasonUnregistered = "executor not registered"
)

// Config tunes the recovery policy.
type Config struct {
	Backoff          BackoffConfig
	MaxFreshAttempts int
}

// DefaultConfig returns the default recovery policy.
func DefaultConfig() Config {
	return Config{
		Backoff:          DefaultBackoff(),
		MaxFreshAttempts: DefaultMaxFreshAttempts,
	}
}

// Report describes how Run left the task.
type Report struct {
	TaskID string
	Status task.Status
	Reason string

	// Executor is the executor whose attempt settled the task, if any.
	Executor string

	// Result is the latest verification result, nil if nothing was verified.
	Result *contract.Result

	// Attempts counts the attempts made during this run.
	Attempts    int
	Escalations int

	// TakeOver carries the resume context when the operator took the task
	// over manually.
	TakeOver *checkpoint.ResumeContext

	// AbandonBatch is set when the operator chose to abandon the batch.
	AbandonBatch bool
	Cancelled    bool
}

// Controller drives one active task through its fallback chain.
type Controller struct {
	sessions    *session.Manager
	checkpoints *checkpoint.Manager
	registry    *executor.Registry
	runner      *contract.Runner
	cfg         Config

	sleeper Sleeper
	metrics *Metrics
	bus     *event.Bus
	logger  *logging.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleeper replaces the backoff timer.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleeper = s }
}

// WithMetrics records controller activity.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithBus publishes controller events.
func WithBus(b *event.Bus) Option {
	return func(c *Controller) { c.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock sets the time source for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator sets the attempt id generator.
func WithIDGenerator(f func() string) Option {
	return func(c *Controller) { c.newID = f }
}

// NewController creates a Controller.
func NewController(
	sessions *session.Manager,
	checkpoints *checkpoint.Manager,
	registry *executor.Registry,
	runner *contract.Runner,
	cfg Config,
	opts ...Option,
) *Controller {
	c := &Controller{
		sessions:    sessions,
		checkpoints: checkpoints,
		registry:    registry,
		runner:      runner,
		cfg:         cfg,
		sleeper:     TimerSleeper{},
		logger:      logging.NopLogger(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxFreshAttempts < 0 {
		c.cfg.MaxFreshAttempts = 0
	}
	if c.cfg.Backoff.MaxRetries < 0 {
		c.cfg.Backoff.MaxRetries = 0
	}
	return c
}

// run is the state of one Run call.
type run struct {
	c   *Controller
	s   *session.Session
	esc Escalator
	log *logging.Logger
	rep Report

	// inflight is the open attempt, if an executor is currently running.
	inflight *task.Attempt
	partial  string
}

// Run drives the session's active task until it reaches a terminal status.
// The session is persisted before every suspension point (executor call,
// verification, backoff sleep, operator prompt) so a crash at any of them
// can be resumed. Cancelling ctx closes the in-flight attempt, snapshots
// the checkpoint and finishes the task as skipped; Run then returns a
// Report with Cancelled set and a nil error.
//
// An escalator error leaves the task active and is returned as-is.
func (c *Controller) Run(ctx context.Context, s *session.Session, esc Escalator) (Report, error) {
	if !s.HasActiveTask() {
		return Report{}, errors.NewSessionError("run task", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	active := s.ActiveTask
	if active.Contract == nil {
		return Report{}, errors.NewTaskError("task has no verification contract", nil).
			WithTaskID(active.Task.ID).
			WithClass(errors.ClassNone)
	}
	if active.Checkpoint == nil {
		createdBy := ""
		if len(active.Chain) > 0 {
			createdBy = active.Chain[0]
		}
		active.Checkpoint = c.checkpoints.Create(active.Task, createdBy)
	}

	r := &run{
		c:   c,
		s:   s,
		esc: esc,
		log: c.logger.WithSession(s.SessionID).WithTask(active.Task.ID),
		rep: Report{TaskID: active.Task.ID, Result: active.LatestResult()},
	}
	rep, err := r.loop(ctx)
	if err != nil && ctx.Err() != nil {
		return r.cancel(ctx)
	}
	return rep, err
}

func (r *run) active() *session.ActiveTask { return r.s.ActiveTask }

func (r *run) loop(ctx context.Context) (Report, error) {
	for round := 1; ; round++ {
		last, err := r.walk(ctx)
		if err != nil {
			return r.rep, err
		}
		if last == task.OutcomeSuccess {
			reason := reasonCompleted
			if r.active().Contract.Type == contract.Advisory {
				reason = reasonAdvisory
			}
			return r.finish(ctx, task.StatusCompleted, reason)
		}

		e := r.escalation(last, round)
		r.rep.Escalations++
		r.c.metrics.observeEscalation(string(e.Category))
		r.c.publish(event.NewEscalatedEvent(e.TaskID, string(e.Category), len(e.Attempts), e.Hint))
		r.log.Warn("fallback chain exhausted, escalating to operator",
			"category", string(e.Category),
			"attempts", len(e.Attempts),
			"last_outcome", string(last),
			"round", round,
			"hint", e.Hint,
		)
		if err := r.c.sessions.Touch(ctx, r.s); err != nil {
			return r.rep, err
		}

		resp, err := r.esc.Escalate(ctx, e)
		if err != nil {
			return r.rep, err
		}
		r.log.Info("operator chose recovery", "choice", string(resp.Choice))

		switch resp.Choice {
		case ChoiceRetryDifferentApproach:
			r.applyApproach(resp.Approach)
			if err := r.c.sessions.NewRound(ctx, r.s); err != nil {
				return r.rep, err
			}
		case ChoiceTakeOver:
			r.rep.TakeOver = e.Resume
			return r.finish(ctx, task.StatusSkipped, reasonTakenOver)
		case ChoiceSkip:
			return r.finish(ctx, task.StatusSkipped, reasonSkipped)
		case ChoiceAbandon:
			r.rep.AbandonBatch = true
			return r.finish(ctx, task.StatusFailed, reasonAbandoned)
		default:
			return r.rep, fmt.Errorf("%w: %q", errors.ErrInvalidDecision, resp.Choice)
		}
	}
}

// walk tries every executor of the chain in order and returns the last
// outcome. It returns early on success.
func (r *run) walk(ctx context.Context) (task.Outcome, error) {
	active := r.active()
	chain := active.Chain
	if len(chain) == 0 {
		r.log.Error("fallback chain is empty")
		return task.OutcomeCrashed, nil
	}
	if err := r.reconcileTried(ctx); err != nil {
		return "", err
	}

	last := r.roundOutcome()
	for idx, exe := range chain {
		if active.HasTried(exe) {
			r.log.Debug("skipping executor already tried this round", "executor", exe)
			continue
		}
		next := r.nextUntried(idx)
		st := State{
			MaxRetries: r.c.cfg.Backoff.MaxRetries,
			MaxFresh:   r.c.cfg.MaxFreshAttempts,
			HasNext:    next >= 0,
		}
		schedule := r.c.cfg.Backoff.newSchedule()
		fresh := false

	attempts:
		for {
			out, err := r.attempt(ctx, exe, st.Retries, fresh)
			if err != nil {
				return out, err
			}
			last = out
			act := Decide(out, st)
			r.log.Debug("transition", "executor", exe, "outcome", string(out), "action", act.String())

			switch act {
			case ActionDone:
				return out, nil
			case ActionRetry:
				delay := schedule.NextBackOff()
				st.Retries++
				fresh = false
				r.c.metrics.observeBackoff(delay)
				r.c.publish(event.NewRetryScheduledEvent(r.rep.TaskID, exe, st.Retries, delay))
				r.log.Info("rate limited, retrying after backoff",
					"executor", exe,
					"retry", st.Retries,
					"delay", delay.String(),
				)
				if err := r.c.sessions.Touch(ctx, r.s); err != nil {
					return out, err
				}
				if err := r.c.sleeper.Sleep(ctx, delay); err != nil {
					return out, err
				}
			case ActionFreshContext:
				st.FreshAttempts++
				fresh = true
				r.log.Info("context overflow, restarting in a fresh context", "executor", exe)
			case ActionSwitch:
				if err := r.c.sessions.MarkTried(ctx, r.s, exe); err != nil {
					return out, err
				}
				r.c.publish(event.NewExecutorSwitchedEvent(r.rep.TaskID, exe, chain[next], out))
				r.log.Info("switching executor", "from", exe, "to", chain[next], "outcome", string(out))
				break attempts
			default:
				if err := r.c.sessions.MarkTried(ctx, r.s, exe); err != nil {
					return out, err
				}
				break attempts
			}
		}
	}
	return last, nil
}

// nextUntried returns the index of the first chain entry after idx that
// has not been tried this round, or -1.
func (r *run) nextUntried(idx int) int {
	active := r.active()
	for i := idx + 1; i < len(active.Chain); i++ {
		if !active.HasTried(active.Chain[i]) {
			return i
		}
	}
	return -1
}

// roundAttempts returns the task's attempts logged in the current round.
func (r *run) roundAttempts() []task.Attempt {
	active := r.active()
	attempts := r.s.AttemptsFor(active.Task.ID)
	return attempts[min(active.RoundAttempt, len(attempts)):]
}

// roundOutcome is the outcome of the round's latest attempt, or crashed
// when the round has none.
func (r *run) roundOutcome() task.Outcome {
	if attempts := r.roundAttempts(); len(attempts) > 0 {
		return attempts[len(attempts)-1].Outcome
	}
	return task.OutcomeCrashed
}

// reconcileTried marks executors whose logged attempts already ended
// their turn, so a run resumed after a restart does not delegate to them
// again. Verification failures and crashes end a turn outright; rate
// limits and overflows are marked by the walk when their budget runs out.
func (r *run) reconcileTried(ctx context.Context) error {
	for _, a := range r.roundAttempts() {
		if !endsTurn(a) || r.active().HasTried(a.Executor) {
			continue
		}
		r.log.Info("executor already failed this round", "executor", a.Executor, "outcome", string(a.Outcome))
		if err := r.c.sessions.MarkTried(ctx, r.s, a.Executor); err != nil {
			return err
		}
	}
	return nil
}

func endsTurn(a task.Attempt) bool {
	if a.Error == reasonCancelled {
		return false
	}
	return a.Outcome == task.OutcomeVerificationFailed || a.Outcome == task.OutcomeCrashed
}

// attempt runs one executor invocation and verifies its output. A
// non-nil error means the run was interrupted and the attempt may still
// be open.
func (r *run) attempt(ctx context.Context, exe string, retryCount int, fresh bool) (task.Outcome, error) {
	c := r.c
	active := r.active()
	t := active.Task
	cp := active.Checkpoint
	a := task.Open(c.newID(), t.ID, exe, retryCount, c.now())
	a.FreshContext = fresh
	log := r.log.WithExecutor(exe).WithAttempt(a.ID)

	var rc *checkpoint.ResumeContext
	if built := c.checkpoints.BuildResumeContext(cp, t); fresh || !built.Empty() || len(built.PreviousExecutors) > 0 {
		rc = built
		c.checkpoints.SetPhase(cp, checkpoint.PhaseResuming)
	} else {
		c.checkpoints.SetPhase(cp, checkpoint.PhaseWorking)
	}
	if fresh {
		c.publish(event.NewFreshContextEvent(t.ID, exe, rc.Stale))
	}

	r.inflight = &a
	r.partial = ""
	c.publish(event.NewTaskDelegatedEvent(t.ID, exe, a.ID, retryCount, fresh))
	log.Info("task delegated",
		"retry_count", retryCount,
		"fresh_context", fresh,
		"resuming", rc != nil,
	)
	if err := c.sessions.Touch(ctx, r.s); err != nil {
		return "", err
	}

	var (
		resp    executor.Response
		execErr error
	)
	if ex, err := c.registry.Get(exe); err != nil {
		execErr = err
	} else {
		resp, execErr = ex.Execute(ctx, executor.Request{
			TaskID:          t.ID,
			AttemptID:       a.ID,
			TaskDescription: t.Description,
			ResumeContext:   rc,
			FreshContext:    fresh,
		})
	}
	if err := ctx.Err(); err != nil {
		r.partial = resp.PartialWork
		return "", err
	}

	outcome := ClassifyExecution(resp, execErr)
	var errMsg string
	switch {
	case errors.Is(execErr, errors.ErrExecutorNotRegistered):
		errMsg = reasonUnregistered
		log.Error("executor not registered")
	case execErr != nil:
		errMsg = execErr.Error()
	case outcome != task.OutcomeSuccess:
		errMsg = resp.Error
	}
	if execErr == nil {
		c.checkpoints.Apply(cp, resp.Progress())
	}

	if outcome == task.OutcomeSuccess {
		c.checkpoints.SetPhase(cp, checkpoint.PhaseVerifying)
		if err := c.sessions.Touch(ctx, r.s); err != nil {
			return "", err
		}
		result, err := c.runner.Run(ctx, active.Contract, exe, a.ID)
		if err != nil {
			r.partial = resp.PartialWork
			return "", err
		}
		r.rep.Result = result
		if err := c.sessions.RecordResult(ctx, r.s, result); err != nil {
			return "", err
		}
		if !result.Passed() {
			outcome = task.OutcomeVerificationFailed
			errMsg = failedCriteria(result)
		}
	}

	closed := a.Close(outcome, util.TruncateString(util.SingleLine(errMsg), attemptErrorLimit), c.now())
	r.inflight = nil
	r.rep.Attempts++
	if err := c.sessions.RecordAttempt(ctx, r.s, closed); err != nil {
		return "", err
	}
	c.metrics.observeAttempt(closed)
	c.publish(event.NewAttemptClosedEvent(closed))
	log.Info("attempt closed",
		"outcome", string(outcome),
		"error", closed.Error,
	)

	if outcome == task.OutcomeSuccess {
		r.rep.Executor = exe
		if active.Contract.Type == contract.Advisory {
			if err := c.sessions.LogReview(ctx, r.s, session.ReviewEntry{
				TaskID:      t.ID,
				Description: t.Description,
				Executor:    exe,
				Output:      resp.Output,
				Files:       resp.FilesChanged,
			}); err != nil {
				return "", err
			}
			c.publish(event.NewAdvisoryLoggedEvent(t.ID, exe, util.TruncateString(util.SingleLine(resp.Output), reviewSummaryLen)))
		}
		return outcome, nil
	}

	reason := SnapshotReason(outcome)
	c.checkpoints.SnapshotOnInterrupt(cp, reason, resp.PartialWork, exe)
	c.metrics.observeCheckpoint(cp.Size())
	c.publish(event.NewCheckpointSnapshotEvent(t.ID, string(reason), cp.Size()))
	if err := c.sessions.Touch(ctx, r.s); err != nil {
		return "", err
	}
	return outcome, nil
}

// applyApproach records the operator's new approach as a settled decision
// and appends it to the task description for the next walk.
func (r *run) applyApproach(approach string) {
	approach = strings.TrimSpace(approach)
	if approach == "" {
		return
	}
	active := r.active()
	r.c.checkpoints.RecordDecision(active.Checkpoint, "retry with a different approach: "+approach, "operator decision after escalation")
	active.Task.Description = strings.TrimRight(active.Task.Description, "\n") + "\n\nApproach: " + approach
}

func (r *run) escalation(last task.Outcome, round int) Escalation {
	active := r.active()
	cp := active.Checkpoint
	e := Escalation{
		TaskID:      active.Task.ID,
		Task:        *active.Task,
		Category:    active.Category,
		Chain:       append([]string(nil), active.Chain...),
		Attempts:    r.s.AttemptsFor(active.Task.ID),
		LastOutcome: last,
		Checkpoint:  cp.Clone(),
		Summary:     cp.Summarize(),
		Resume:      r.c.checkpoints.BuildResumeContext(cp, active.Task),
		Round:       round,
	}
	if last == task.OutcomeContextOverflow {
		e.Hint = DecompositionHint
	}
	return e
}

func (r *run) finish(ctx context.Context, status task.Status, reason string) (Report, error) {
	active := r.active()
	taskID := active.Task.ID
	kind := active.Contract.Type
	r.rep.Result = active.LatestResult()

	_, err := r.c.sessions.Finish(ctx, r.s, status, reason)
	r.c.metrics.observeFinished(status)
	if status == task.StatusCompleted {
		r.c.publish(event.NewTaskCompletedEvent(taskID, r.rep.Executor, kind.String()))
	}
	r.rep.Status = status
	r.rep.Reason = reason
	return r.rep, err
}

// cancel closes any in-flight attempt, snapshots the checkpoint and
// finishes the task as skipped. Persistence uses a context detached from
// the cancelled one.
func (r *run) cancel(ctx context.Context) (Report, error) {
	c := r.c
	pctx := context.WithoutCancel(ctx)
	active := r.active()
	if active == nil {
		r.rep.Cancelled = true
		return r.rep, nil
	}

	exe := ""
	if r.inflight != nil {
		exe = r.inflight.Executor
		closed := r.inflight.Close(task.OutcomeCrashed, reasonCancelled, c.now())
		r.inflight = nil
		r.rep.Attempts++
		if err := c.sessions.RecordAttempt(pctx, r.s, closed); err != nil {
			return r.rep, err
		}
		c.metrics.observeAttempt(closed)
		c.publish(event.NewAttemptClosedEvent(closed))
	}

	cp := active.Checkpoint
	c.checkpoints.SnapshotOnInterrupt(cp, checkpoint.ReasonCancelled, r.partial, exe)
	c.metrics.observeCheckpoint(cp.Size())
	c.publish(event.NewCheckpointSnapshotEvent(active.Task.ID, string(checkpoint.ReasonCancelled), cp.Size()))
	c.publish(event.NewTaskCancelledEvent(active.Task.ID, exe))
	r.log.Warn("task cancelled", "executor", exe)

	r.rep.Cancelled = true
	return r.finish(pctx, task.StatusSkipped, reasonCancelled)
}

func (c *Controller) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func failedCriteria(res *contract.Result) string {
	failed := res.Failed()
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		parts = append(parts, f.Criterion.String())
	}
	return "verification failed: " + strings.Join(parts, "; ")
}
