package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/store"
	"github.com/Iron-Ham/handoff/internal/task"
)

// DefaultTimeout is how long a heartbeat stays fresh.
const DefaultTimeout = 30 * time.Minute

// Manager loads, mutates and persists session records.
type Manager struct {
	backend store.Backend
	timeout time.Duration
	now     func() time.Time
	logger  *logging.Logger
	bus     *event.Bus
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the heartbeat staleness timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBus sets the event bus that receives persistence and task events.
func WithBus(b *event.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// NewManager creates a Manager over backend.
func NewManager(backend store.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the staleness timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// NewID returns a fresh session id for multi-session mode.
func NewID() string {
	return uuid.NewString()
}

// Start loads the session record for id, or creates a fresh one. An empty
// id selects DefaultID. A backend that cannot be read is treated as having
// no session: startup never blocks on persistence.
func (m *Manager) Start(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = DefaultID
	}
	if err := store.ValidateKey(id); err != nil {
		return nil, err
	}
	log := m.logger.WithSession(id)
	now := m.now()

	s := &Session{Record: Record{SessionID: id, CreatedAt: now, AttemptsLog: []task.Attempt{}}}

	data, err := m.backend.Load(ctx, id)
	switch {
	case err == nil:
		var rec Record
		if uerr := json.Unmarshal(data, &rec); uerr != nil {
			log.Error("session record unreadable, starting fresh", "error", uerr.Error())
			break
		}
		rec.SessionID = id
		s.Record = rec
		s.Resumed = true
		s.Stale = rec.IsStale(now, m.timeout)
		if rec.Owner != nil && !rec.Owner.IsCurrentProcess() && rec.Owner.Alive() && !s.Stale {
			log.Warn("session record is held by another live process", "owner", rec.Owner.String())
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		log.Warn("persistence backend unavailable at startup, continuing without saved state",
			"error", err.Error())
	}

	s.Owner = currentOwner(now)
	log.Info("session started",
		"resumed", s.Resumed,
		"stale", s.Stale,
		"active_task", s.HasActiveTask(),
	)
	if err := m.Touch(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Touch advances the heartbeat and persists the record. The heartbeat
// never moves backwards. Backend write failures put the session in
// degraded mode: the change is kept in memory, a warning is logged, and
// Touch still succeeds.
func (m *Manager) Touch(ctx context.Context, s *Session) error {
	if now := m.now(); now.After(s.LastHeartbeat) {
		s.LastHeartbeat = now
	}
	return m.save(ctx, s)
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(&s.Record)
	if err != nil {
		m.logger.Error("session record cannot be encoded", "session_id", s.SessionID, "error", err.Error())
		return errors.NewSessionError("encode session record", err).WithSessionID(s.SessionID)
	}

	if err := m.backend.Save(ctx, s.SessionID, data); err != nil {
		if !s.Degraded {
			s.Degraded = true
			m.logger.Warn("session state not persisted, continuing in memory; work may be lost if the process exits",
				"session_id", s.SessionID,
				"error", err.Error(),
			)
			m.publish(event.NewPersistenceDegradedEvent(s.SessionID, "save", err.Error(), true))
		}
		return nil
	}

	if s.Degraded {
		s.Degraded = false
		m.logger.Info("session state persisted again", "session_id", s.SessionID)
		m.publish(event.NewPersistenceDegradedEvent(s.SessionID, "save", "", false))
	}
	return nil
}

func (m *Manager) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

// Activate makes active the session's in-progress task.
func (m *Manager) Activate(ctx context.Context, s *Session, active *ActiveTask) error {
	if s.HasActiveTask() && !s.ActiveTask.Task.Status.IsTerminal() {
		return errors.NewTaskError("cannot activate task", errors.ErrTaskInProgress).
			WithTaskID(s.ActiveTask.Task.ID).
			WithClass(errors.ClassNone)
	}
	active.Task.Status = task.StatusInProgress
	if active.StartedAt.IsZero() {
		active.StartedAt = m.now()
	}
	active.RoundAttempt = len(s.AttemptsFor(active.Task.ID))
	m.stamp(active.Contract)
	s.ActiveTask = active
	kind := "none"
	if active.Contract != nil {
		kind = active.Contract.Type.String()
	}
	m.logger.WithSession(s.SessionID).WithTask(active.Task.ID).Info("task activated",
		"category", string(active.Category),
		"chain", active.Chain,
		"contract", kind,
	)
	return m.Touch(ctx, s)
}

// RecordAttempt appends a closed attempt to the attempts log.
func (m *Manager) RecordAttempt(ctx context.Context, s *Session, a task.Attempt) error {
	if !a.Closed() {
		return errors.NewValidationError("attempt must be closed before it is logged").
			WithField("attempt").
			WithValue(a.ID)
	}
	s.AttemptsLog = append(s.AttemptsLog, a)
	return m.Touch(ctx, s)
}

// AttachContract replaces the active task's verification contract.
func (m *Manager) AttachContract(ctx context.Context, s *Session, c *contract.Contract) error {
	if !s.HasActiveTask() {
		return errors.NewSessionError("attach contract", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	m.stamp(c)
	s.ActiveTask.Contract = c
	return m.Touch(ctx, s)
}

func (m *Manager) stamp(c *contract.Contract) {
	if c != nil && c.GeneratedAt.IsZero() {
		c.GeneratedAt = m.now()
	}
}

// MarkTried records that exe's turn in the current round is over.
func (m *Manager) MarkTried(ctx context.Context, s *Session, exe string) error {
	if !s.HasActiveTask() {
		return errors.NewSessionError("mark executor tried", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	if s.ActiveTask.HasTried(exe) {
		return nil
	}
	s.ActiveTask.Tried = append(s.ActiveTask.Tried, exe)
	return m.Touch(ctx, s)
}

// NewRound starts a fresh walk of the chain: no executor counts as tried
// and earlier attempts no longer belong to the round.
func (m *Manager) NewRound(ctx context.Context, s *Session) error {
	if !s.HasActiveTask() {
		return errors.NewSessionError("start new round", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	m.resetRound(s)
	return m.Touch(ctx, s)
}

func (m *Manager) resetRound(s *Session) {
	s.ActiveTask.Tried = nil
	s.ActiveTask.RoundAttempt = len(s.AttemptsFor(s.ActiveTask.Task.ID))
}

// RecordResult appends a verification result to the active task.
func (m *Manager) RecordResult(ctx context.Context, s *Session, r *contract.Result) error {
	if !s.HasActiveTask() {
		return errors.NewSessionError("record verification result", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	s.ActiveTask.Results = append(s.ActiveTask.Results, r)
	return m.Touch(ctx, s)
}

// LogReview appends advisory output to the review log.
func (m *Manager) LogReview(ctx context.Context, s *Session, e ReviewEntry) error {
	if e.LoggedAt.IsZero() {
		e.LoggedAt = m.now()
	}
	s.ReviewLog = append(s.ReviewLog, e)
	return m.Touch(ctx, s)
}

// SetOverrides records the fallback chain overrides in effect.
func (m *Manager) SetOverrides(ctx context.Context, s *Session, o fallback.Overrides) error {
	s.FallbackOverrides = o
	return m.Touch(ctx, s)
}

// Finish moves the active task into history with a terminal status. The
// final checkpoint travels with the history entry.
func (m *Manager) Finish(ctx context.Context, s *Session, status task.Status, reason string) (HistoryEntry, error) {
	if !s.HasActiveTask() {
		return HistoryEntry{}, errors.NewSessionError("finish task", errors.ErrNoActiveTask).WithSessionID(s.SessionID)
	}
	if !status.IsTerminal() {
		return HistoryEntry{}, errors.NewValidationError("status must be terminal").
			WithField("status").
			WithValue(string(status))
	}

	active := s.ActiveTask
	active.Task.Status = status
	entry := HistoryEntry{
		Task:       *active.Task,
		Status:     status,
		Reason:     reason,
		Checkpoint: active.Checkpoint,
		Result:     active.LatestResult(),
		FinishedAt: m.now(),
	}
	if active.Contract != nil {
		entry.Contract = active.Contract.Type
	}

	log := m.logger.WithSession(s.SessionID).WithTask(active.Task.ID)
	if entry.Checkpoint == nil && entry.Result == nil {
		log.Error("task finished without checkpoint or result", "status", string(status))
	}

	s.History = append(s.History, entry)
	s.ActiveTask = nil
	log.Info("task finished", "status", string(status), "reason", reason)
	m.publish(event.NewTaskFinishedEvent(entry.Task.ID, status, reason))

	return entry, m.Touch(ctx, s)
}

// Inspect loads a record without claiming it.
func (m *Manager) Inspect(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		id = DefaultID
	}
	data, err := m.backend.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NewSessionError("inspect session", errors.ErrSessionNotFound).WithSessionID(id)
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.NewSessionError("decode session record", err).WithSessionID(id)
	}
	return &rec, nil
}

// ClaimStale takes over another session whose heartbeat has expired. The
// check and the claim happen in one atomic backend update.
func (m *Manager) ClaimStale(ctx context.Context, id string) (*Session, error) {
	now := m.now()
	var claimed Record
	err := m.backend.Update(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.NewSessionError("claim session", errors.ErrSessionNotFound).WithSessionID(id)
		}
		var rec Record
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, errors.NewSessionError("decode session record", err).WithSessionID(id)
		}
		if !rec.IsStale(now, m.timeout) {
			return nil, errors.NewSessionError("heartbeat is fresh", errors.ErrSessionActive).WithSessionID(id)
		}
		rec.Owner = currentOwner(now)
		if now.After(rec.LastHeartbeat) {
			rec.LastHeartbeat = now
		}
		claimed = rec
		return json.Marshal(&rec)
	})
	if err != nil {
		return nil, err
	}
	m.logger.WithSession(id).Warn("stale session claimed", "active_task", claimed.ActiveTask != nil)
	return &Session{Record: claimed, Stale: true, Resumed: true}, nil
}

// Clear deletes a session record.
func (m *Manager) Clear(ctx context.Context, id string) error {
	if id == "" {
		id = DefaultID
	}
	if err := m.backend.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.NewSessionError("clear session", errors.ErrSessionNotFound).WithSessionID(id)
		}
		return err
	}
	m.logger.WithSession(id).Info("session cleared")
	return nil
}

// Summary returns the checkpoint digest of the active task.
func (s *Session) Summary() checkpoint.Summary {
	if !s.HasActiveTask() {
		return checkpoint.Summary{}
	}
	return s.ActiveTask.Checkpoint.Summarize()
}
