package syncer

import (
	"context"
	"time"

	"dbinventory/internal/core"
	"dbinventory/internal/metrics"

	"github.com/google/uuid"
)

// SessionManager owns session and record rows.
type SessionManager struct {
	repo core.SessionRepository
	now  func() time.Time
}

func NewSessionManager(repo core.SessionRepository) *SessionManager {
	return &SessionManager{repo: repo, now: time.Now}
}

// Start creates a running session and one pending record per instance.
func (m *SessionManager) Start(ctx context.Context, kind core.SyncKind, category core.SyncCategory, actor string, instances []core.Instance) (*core.SyncSession, []core.SyncRecord, error) {
	s := &core.SyncSession{
		ID:        uuid.NewString(),
		Kind:      kind,
		Category:  category,
		Status:    core.SessionRunning,
		StartedAt: m.now().UTC(),
		CreatedBy: actor,
	}
	records, err := m.repo.CreateSession(ctx, s, instances)
	if err != nil {
		return nil, nil, core.E(core.CodePersist, "session.start", err)
	}
	return s, records, nil
}

// Running moves a pending record to running.
func (m *SessionManager) Running(ctx context.Context, rec *core.SyncRecord) error {
	now := m.now().UTC()
	rec.Status = core.RecordRunning
	rec.StartedAt = &now
	return m.repo.UpdateRecord(ctx, rec)
}

// Finish writes a terminal record state and bumps the session counters.
func (m *SessionManager) Finish(ctx context.Context, rec *core.SyncRecord, status core.RecordStatus) error {
	now := m.now().UTC()
	rec.Status = status
	rec.CompletedAt = &now
	if rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if err := m.repo.UpdateRecord(ctx, rec); err != nil {
		return err
	}
	var ok, failed, cancelled int
	switch status {
	case core.RecordCompleted:
		ok = 1
	case core.RecordFailed:
		failed = 1
	case core.RecordCancelled:
		cancelled = 1
	}
	return m.repo.IncrementCounters(ctx, rec.SessionID, ok, failed, cancelled)
}

// Close aggregates the records into the session's terminal status.
func (m *SessionManager) Close(ctx context.Context, id string) (*core.SyncSession, error) {
	s, err := m.repo.FinalizeSession(ctx, id, m.now())
	if err != nil {
		return nil, core.E(core.CodePersist, "session.close", err)
	}
	metrics.SyncSessionsTotal.WithLabelValues(string(s.Kind), string(s.Status)).Inc()
	return s, nil
}

// Cancel moves a running session to cancelled. It reports false when the
// session is already terminal.
func (m *SessionManager) Cancel(ctx context.Context, id string) (bool, error) {
	if _, err := m.repo.GetSession(ctx, id); err != nil {
		return false, err
	}
	now := m.now().UTC()
	return m.repo.SetSessionStatus(ctx, id, core.SessionRunning, core.SessionCancelled, &now)
}

func (m *SessionManager) IsCancelled(ctx context.Context, id string) (bool, error) {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Status == core.SessionCancelled, nil
}

func (m *SessionManager) Get(ctx context.Context, id string) (*core.SyncSession, []core.SyncRecord, error) {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	records, err := m.repo.ListRecords(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return s, records, nil
}

func (m *SessionManager) List(ctx context.Context, f core.SessionFilter) ([]core.SyncSession, error) {
	return m.repo.ListSessions(ctx, f)
}

// SyncInProgress reports whether any of the instances has an unfinished
// record in a running session. An empty list means any instance.
func (m *SessionManager) SyncInProgress(ctx context.Context, instanceIDs []int64) (bool, error) {
	return m.repo.HasActiveRecords(ctx, instanceIDs)
}

// PurgeBefore deletes terminal sessions older than cutoff.
func (m *SessionManager) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.repo.DeleteFinishedBefore(ctx, cutoff)
}
