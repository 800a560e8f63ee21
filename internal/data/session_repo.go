package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dbinventory/internal/core"

	"github.com/goccy/go-json"
)

// SessionRepo stores sync sessions and their per-instance records.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// CreateSession inserts the session and one pending record per instance in a
// single transaction.
func (r *SessionRepo) CreateSession(ctx context.Context, s *core.SyncSession, instances []core.Instance) ([]core.SyncRecord, error) {
	s.TotalInstances = len(instances)
	s.StartedAt = s.StartedAt.UTC()
	records := make([]core.SyncRecord, 0, len(instances))
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_sessions (id, sync_kind, category, status, started_at, completed_at, total_instances,
				successful_instances, failed_instances, cancelled_instances, created_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?)`,
			s.ID, s.Kind, s.Category, s.Status, s.StartedAt, nullTime(s.CompletedAt), s.TotalInstances, s.CreatedBy)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_records (session_id, instance_id, instance_name, status, details)
			VALUES (?, ?, ?, ?, '{}')`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, inst := range instances {
			res, err := stmt.ExecContext(ctx, s.ID, inst.ID, inst.Name, core.RecordPending)
			if err != nil {
				return fmt.Errorf("record for instance %d: %w", inst.ID, err)
			}
			id, _ := res.LastInsertId()
			records = append(records, core.SyncRecord{
				ID: id, SessionID: s.ID, InstanceID: inst.ID, InstanceName: inst.Name, Status: core.RecordPending,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

const sessionColumns = `id, sync_kind, category, status, started_at, completed_at, total_instances,
	successful_instances, failed_instances, cancelled_instances, created_by`

func scanSession(s interface{ Scan(...any) error }) (*core.SyncSession, error) {
	var ss core.SyncSession
	var completed sql.NullTime
	var createdBy sql.NullString
	err := s.Scan(&ss.ID, &ss.Kind, &ss.Category, &ss.Status, &ss.StartedAt, &completed, &ss.TotalInstances,
		&ss.SuccessfulInstances, &ss.FailedInstances, &ss.CancelledInstances, &createdBy)
	if err != nil {
		return nil, err
	}
	ss.CompletedAt = fromNullTime(completed)
	ss.CreatedBy = createdBy.String
	return &ss, nil
}

func (r *SessionRepo) GetSession(ctx context.Context, id string) (*core.SyncSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sync_sessions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *SessionRepo) ListSessions(ctx context.Context, f core.SessionFilter) ([]core.SyncSession, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		where = append(where, "sync_kind = ?")
		args = append(args, f.Kind)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	q := `SELECT ` + sessionColumns + ` FROM sync_sessions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SyncSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

const recordColumns = `id, session_id, instance_id, instance_name, status, started_at, completed_at,
	synced, created, updated, deleted, error_code, error_message, details`

func scanRecord(s interface{ Scan(...any) error }) (*core.SyncRecord, error) {
	var rec core.SyncRecord
	var name, code, msg sql.NullString
	var started, completed sql.NullTime
	var details string
	err := s.Scan(&rec.ID, &rec.SessionID, &rec.InstanceID, &name, &rec.Status, &started, &completed,
		&rec.Synced, &rec.Created, &rec.Updated, &rec.Deleted, &code, &msg, &details)
	if err != nil {
		return nil, err
	}
	rec.InstanceName = name.String
	rec.StartedAt = fromNullTime(started)
	rec.CompletedAt = fromNullTime(completed)
	rec.ErrorCode = core.Code(code.String)
	rec.ErrorMessage = msg.String
	if details != "" {
		if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
			return nil, fmt.Errorf("record %d details: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func (r *SessionRepo) ListRecords(ctx context.Context, sessionID string) ([]core.SyncRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM sync_records WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *SessionRepo) GetRecord(ctx context.Context, sessionID string, instanceID int64) (*core.SyncRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM sync_records WHERE session_id = ? AND instance_id = ?`, sessionID, instanceID))
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

// UpdateRecord writes the mutable part of a record.
func (r *SessionRepo) UpdateRecord(ctx context.Context, rec *core.SyncRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_records SET status=?, started_at=?, completed_at=?, synced=?, created=?, updated=?, deleted=?,
			error_code=?, error_message=?, details=?
		WHERE session_id=? AND instance_id=?`,
		rec.Status, nullTime(rec.StartedAt), nullTime(rec.CompletedAt), rec.Synced, rec.Created, rec.Updated, rec.Deleted,
		string(rec.ErrorCode), rec.ErrorMessage, string(details), rec.SessionID, rec.InstanceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// IncrementCounters bumps the session counters in one short statement.
func (r *SessionRepo) IncrementCounters(ctx context.Context, sessionID string, successful, failed, cancelled int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_sessions SET successful_instances = successful_instances + ?,
			failed_instances = failed_instances + ?, cancelled_instances = cancelled_instances + ?
		WHERE id = ?`, successful, failed, cancelled, sessionID)
	return err
}

// SetSessionStatus moves the session from one status to another. It reports
// false when the session was not in the expected status.
func (r *SessionRepo) SetSessionStatus(ctx context.Context, id string, from, to core.SessionStatus, completedAt *time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_sessions SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ? AND status = ?`,
		to, nullTime(completedAt), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinalizeSession recomputes the counters from the child records and closes
// the session. A cancelled session keeps its status.
func (r *SessionRepo) FinalizeSession(ctx context.Context, id string, now time.Time) (*core.SyncSession, error) {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var total, ok, failed, cancelled int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*),
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
			FROM sync_records WHERE session_id = ?`,
			core.RecordCompleted, core.RecordFailed, core.RecordCancelled, id).Scan(&total, &ok, &failed, &cancelled)
		if err != nil {
			return err
		}
		var current core.SessionStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM sync_sessions WHERE id = ?`, id).Scan(&current); err != nil {
			return notFound(err)
		}
		status := current
		if current == core.SessionRunning {
			status = AggregateStatus(ok, failed, cancelled)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_sessions SET status = ?, completed_at = COALESCE(completed_at, ?), total_instances = ?,
				successful_instances = ?, failed_instances = ?, cancelled_instances = ?
			WHERE id = ?`, status, now.UTC(), total, ok, failed, cancelled, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetSession(ctx, id)
}

// AggregateStatus derives the terminal status of a session that was not
// cancelled by an operator.
func AggregateStatus(successful, failed, cancelled int) core.SessionStatus {
	switch {
	case failed == 0 && cancelled == 0:
		return core.SessionCompleted
	case successful == 0 && failed == 0:
		return core.SessionCancelled
	default:
		return core.SessionFailed
	}
}

// HasActiveRecords reports whether any of the instances has a pending or
// running record. The session status is ignored: a cancelled session can
// still have a worker applying changes.
func (r *SessionRepo) HasActiveRecords(ctx context.Context, instanceIDs []int64) (bool, error) {
	q := `SELECT COUNT(*) FROM sync_records r WHERE r.status IN (?, ?)`
	args := []any{core.RecordPending, core.RecordRunning}
	if len(instanceIDs) > 0 {
		q += ` AND r.instance_id IN (` + placeholders(len(instanceIDs)) + `)`
		args = append(args, int64Args(instanceIDs)...)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteFinishedBefore removes terminal sessions completed before cutoff.
// Records go with them through the foreign key.
func (r *SessionRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_sessions WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?`,
		core.SessionRunning, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
