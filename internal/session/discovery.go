package session

import (
	"context"
	"encoding/json"
	"time"
)

// Info contains summary information about a session.
type Info struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Stale         bool      `json:"stale"`
	Owner         *Owner    `json:"owner,omitempty"`
	OwnerAlive    bool      `json:"owner_alive"`
	ActiveTaskID  string    `json:"active_task_id,omitempty"`
	Attempts      int       `json:"attempts"`
	Finished      int       `json:"finished"`
}

// ListSessions returns information about all session records in the
// backend. Records that cannot be read are skipped.
func (m *Manager) ListSessions(ctx context.Context) ([]Info, error) {
	keys, err := m.backend.List(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var sessions []Info
	for _, key := range keys {
		data, err := m.backend.Load(ctx, key)
		if err != nil {
			m.logger.Debug("skipping unreadable session", "session_id", key, "error", err.Error())
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			m.logger.Debug("skipping undecodable session", "session_id", key, "error", err.Error())
			continue
		}
		sessions = append(sessions, infoFor(key, &rec, now, m.timeout))
	}
	return sessions, nil
}

// FindStaleSessions returns sessions whose heartbeat expired while they
// still own an active task. These are the takeover candidates.
func (m *Manager) FindStaleSessions(ctx context.Context) ([]Info, error) {
	all, err := m.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var stale []Info
	for _, s := range all {
		if s.Stale && s.ActiveTaskID != "" {
			stale = append(stale, s)
		}
	}
	return stale, nil
}

func infoFor(id string, rec *Record, now time.Time, timeout time.Duration) Info {
	info := Info{
		ID:            id,
		CreatedAt:     rec.CreatedAt,
		LastHeartbeat: rec.LastHeartbeat,
		Stale:         rec.IsStale(now, timeout),
		Owner:         rec.Owner,
		OwnerAlive:    rec.Owner.Alive(),
		Attempts:      len(rec.AttemptsLog),
		Finished:      len(rec.History),
	}
	if rec.ActiveTask != nil && rec.ActiveTask.Task != nil {
		info.ActiveTaskID = rec.ActiveTask.Task.ID
	}
	return info
}
