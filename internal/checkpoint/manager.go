package checkpoint

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/task"
	"github.com/Iron-Ham/handoff/internal/util"
)

// Limits bound the size of a checkpoint.
type Limits struct {
	MaxCompletedSteps int // sliding window of completed steps
	MaxBytes          int // JSON size budget
	RationaleLimit    int // characters kept of a decision rationale
	PartialWorkLimit  int // characters kept of in-flight partial work
	TextLimit         int // characters kept of step, decision and blocker text
	MaxDecisions      int
	MaxBlockers       int
	MaxFilesPerStep   int
	MaxExecutors      int // previous executors remembered
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxCompletedSteps: 10,
		MaxBytes:          2048,
		RationaleLimit:    100,
		PartialWorkLimit:  200,
		TextLimit:         120,
		MaxDecisions:      5,
		MaxBlockers:       5,
		MaxFilesPerStep:   5,
		MaxExecutors:      5,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&l.MaxCompletedSteps, d.MaxCompletedSteps)
	fill(&l.MaxBytes, d.MaxBytes)
	fill(&l.RationaleLimit, d.RationaleLimit)
	fill(&l.PartialWorkLimit, d.PartialWorkLimit)
	fill(&l.TextLimit, d.TextLimit)
	fill(&l.MaxDecisions, d.MaxDecisions)
	fill(&l.MaxBlockers, d.MaxBlockers)
	fill(&l.MaxFilesPerStep, d.MaxFilesPerStep)
	fill(&l.MaxExecutors, d.MaxExecutors)
	return l
}

// Manager creates and mutates checkpoints. It holds no checkpoint state of
// its own; callers own the *Checkpoint and persist it after each call.
type Manager struct {
	limits  Limits
	now     func() time.Time
	logger  *logging.Logger
	fs      afero.Fs
	workDir string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithFs sets the filesystem used to stat referenced files.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithWorkDir sets the directory relative file paths are resolved against.
func WithWorkDir(dir string) Option {
	return func(m *Manager) { m.workDir = dir }
}

// NewManager creates a Manager. Zero limits take their defaults.
func NewManager(limits Limits, opts ...Option) *Manager {
	m := &Manager{
		limits: limits.withDefaults(),
		now:    time.Now,
		logger: logging.NopLogger(),
		fs:     afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limits returns the effective limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// Create initializes a checkpoint for a task entering in_progress. Pending
// steps are seeded from the task's declared steps.
func (m *Manager) Create(t *task.Task, createdBy string) *Checkpoint {
	now := m.now()
	cp := &Checkpoint{
		TaskID:         util.TruncateString(t.ID, m.limits.TextLimit),
		Phase:          PhaseStarted,
		CompletedSteps: []CompletedStep{},
		PendingSteps:   []string{},
		Metadata: Metadata{
			CreatedBy:     util.TruncateString(createdBy, m.limits.TextLimit),
			CreatedAt:     now,
			LastUpdatedAt: now,
		},
	}
	for _, s := range t.Steps {
		if s = m.text(s); s != "" && !slices.Contains(cp.PendingSteps, s) {
			cp.PendingSteps = append(cp.PendingSteps, s)
		}
	}
	m.enforce(cp)
	return cp
}

// SetPhase updates the phase.
func (m *Manager) SetPhase(cp *Checkpoint, phase Phase) {
	cp.Phase = phase
	m.touch(cp)
}

// StartStep marks a step as in flight.
func (m *Manager) StartStep(cp *Checkpoint, description string) {
	cp.CurrentStep = &CurrentStep{
		Description: m.text(description),
		StartedAt:   m.now(),
	}
	cp.Phase = PhaseWorking
	m.touch(cp)
}

// RecordStepComplete appends a completed step, keeps only the most recent
// window, removes the matching pending entry and clears the current step.
func (m *Manager) RecordStepComplete(cp *Checkpoint, step string, filesTouched ...string) {
	step = m.text(step)
	var files []string
	for _, f := range filesTouched {
		f = m.text(f)
		if f != "" && !slices.Contains(files, f) {
			files = append(files, f)
		}
	}
	if len(files) > m.limits.MaxFilesPerStep {
		files = files[len(files)-m.limits.MaxFilesPerStep:]
	}

	cp.CompletedSteps = append(cp.CompletedSteps, CompletedStep{
		Step:         step,
		FilesTouched: files,
		Timestamp:    m.now(),
	})
	if over := len(cp.CompletedSteps) - m.limits.MaxCompletedSteps; over > 0 {
		cp.CompletedSteps = slices.Clone(cp.CompletedSteps[over:])
	}

	if i := slices.IndexFunc(cp.PendingSteps, func(p string) bool { return pendingMatches(p, step) }); i >= 0 {
		cp.PendingSteps = slices.Delete(cp.PendingSteps, i, i+1)
	}
	cp.CurrentStep = nil
	cp.Phase = PhaseWorking
	m.touch(cp)
}

// RecordDecision appends a settled decision, truncating its rationale.
func (m *Manager) RecordDecision(cp *Checkpoint, decision, rationale string) {
	cp.Decisions = append(cp.Decisions, Decision{
		Decision:  m.text(decision),
		Rationale: util.TruncateString(util.SingleLine(rationale), m.limits.RationaleLimit),
		Timestamp: m.now(),
	})
	if over := len(cp.Decisions) - m.limits.MaxDecisions; over > 0 {
		cp.Decisions = slices.Clone(cp.Decisions[over:])
	}
	m.touch(cp)
}

// RecordBlocker appends a blocker. Duplicate blockers are ignored.
func (m *Manager) RecordBlocker(cp *Checkpoint, blocker string) {
	blocker = m.text(blocker)
	if blocker == "" || slices.Contains(cp.Blockers, blocker) {
		return
	}
	cp.Blockers = append(cp.Blockers, blocker)
	if over := len(cp.Blockers) - m.limits.MaxBlockers; over > 0 {
		cp.Blockers = slices.Clone(cp.Blockers[over:])
	}
	m.touch(cp)
}

// Progress is what an executor reports about work done during an attempt.
type Progress struct {
	StepsCompleted []StepReport
	Decisions      []Decision
	Blockers       []string
	PartialWork    string
}

// StepReport is one completed step as reported by an executor.
type StepReport struct {
	Step  string   `json:"step"`
	Files []string `json:"files,omitempty"`
}

// Apply records executor-reported progress. Partial work is not applied
// here; it belongs to SnapshotOnInterrupt.
func (m *Manager) Apply(cp *Checkpoint, p Progress) {
	for _, s := range p.StepsCompleted {
		if s.Step == "" {
			continue
		}
		m.RecordStepComplete(cp, s.Step, s.Files...)
	}
	for _, d := range p.Decisions {
		if d.Decision == "" {
			continue
		}
		m.RecordDecision(cp, d.Decision, d.Rationale)
	}
	for _, b := range p.Blockers {
		m.RecordBlocker(cp, b)
	}
}

// SnapshotOnInterrupt records why work stopped. For rate limits, crashes
// and cancellation the in-flight progress is stored on the current step;
// completed and pending steps are never modified. executor is remembered
// in metadata.previousExecutors.
func (m *Manager) SnapshotOnInterrupt(cp *Checkpoint, reason Reason, partialWork, executor string) {
	cp.Metadata.Reason = reason
	cp.Phase = PhaseInterrupted

	if reason.capturesPartialWork() && partialWork != "" {
		if cp.CurrentStep == nil {
			desc := "in-flight work"
			if len(cp.PendingSteps) > 0 {
				desc = cp.PendingSteps[0]
			}
			cp.CurrentStep = &CurrentStep{Description: desc, StartedAt: m.now()}
		}
		cp.CurrentStep.PartialWork = util.TruncateString(util.SingleLine(partialWork), m.limits.PartialWorkLimit)
	}

	if executor != "" {
		execs := cp.Metadata.PreviousExecutors
		if len(execs) == 0 || execs[len(execs)-1] != executor {
			execs = append(execs, util.TruncateString(executor, m.limits.TextLimit))
		}
		if over := len(execs) - m.limits.MaxExecutors; over > 0 {
			execs = slices.Clone(execs[over:])
		}
		cp.Metadata.PreviousExecutors = execs
	}

	m.touch(cp)
	m.logger.Debug("checkpoint snapshot",
		"task_id", cp.TaskID,
		"reason", string(reason),
		"size_bytes", cp.Size(),
	)
}

func (m *Manager) text(s string) string {
	return util.TruncateString(util.SingleLine(s), m.limits.TextLimit)
}

// touch stamps lastUpdatedAt (never moving it backwards) and enforces the
// size budget.
func (m *Manager) touch(cp *Checkpoint) {
	if now := m.now(); now.After(cp.Metadata.LastUpdatedAt) {
		cp.Metadata.LastUpdatedAt = now
	}
	m.enforce(cp)
}

// enforce compacts cp until it fits MaxBytes, dropping the least valuable
// data first: file lists of old steps, old completed steps, old decisions,
// old blockers and old executors. Pending steps are never dropped; their
// text is shortened as a last resort.
func (m *Manager) enforce(cp *Checkpoint) {
	for cp.Size() > m.limits.MaxBytes {
		if !m.compactOnce(cp) {
			m.logger.Error("checkpoint exceeds size budget after compaction",
				"task_id", cp.TaskID,
				"size_bytes", cp.Size(),
				"max_bytes", m.limits.MaxBytes,
				"pending_steps", len(cp.PendingSteps),
			)
			return
		}
	}
}

func (m *Manager) compactOnce(cp *Checkpoint) bool {
	for i := range cp.CompletedSteps {
		if len(cp.CompletedSteps[i].FilesTouched) > 0 && i < len(cp.CompletedSteps)-1 {
			cp.CompletedSteps[i].FilesTouched = nil
			return true
		}
	}
	switch {
	case len(cp.CompletedSteps) > 1:
		cp.CompletedSteps = slices.Clone(cp.CompletedSteps[1:])
	case len(cp.Decisions) > 1:
		cp.Decisions = slices.Clone(cp.Decisions[1:])
	case len(cp.Blockers) > 1:
		cp.Blockers = slices.Clone(cp.Blockers[1:])
	case len(cp.Metadata.PreviousExecutors) > 1:
		cp.Metadata.PreviousExecutors = slices.Clone(cp.Metadata.PreviousExecutors[1:])
	case len(cp.CompletedSteps) == 1 && len(cp.CompletedSteps[0].FilesTouched) > 0:
		cp.CompletedSteps[0].FilesTouched = nil
	case shortenPending(cp):
	default:
		return false
	}
	return true
}

// minPendingText is the shortest a pending step is cut to.
const minPendingText = 32

// truncated marks text cut by util.TruncateString.
const truncated = "..."

// shortenPending cuts the longest pending steps by a quarter, never below
// minPendingText. It reports whether anything changed.
func shortenPending(cp *Checkpoint) bool {
	longest := 0
	for _, p := range cp.PendingSteps {
		longest = max(longest, utf8.RuneCountInString(p))
	}
	limit := max(minPendingText, longest-longest/4)
	if longest <= limit {
		return false
	}
	for i, p := range cp.PendingSteps {
		cp.PendingSteps[i] = util.TruncateString(p, limit)
	}
	return true
}

// pendingMatches reports whether a completed step closes the pending entry
// p, which may have been shortened.
func pendingMatches(p, step string) bool {
	if p == step {
		return true
	}
	prefix, cut := strings.CutSuffix(p, truncated)
	return cut && prefix != "" && strings.HasPrefix(step, prefix)
}
