package data

import (
	"database/sql"
	"time"

	"dbinventory/internal/core"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Create(l *core.AuditLog) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}
	res, err := r.db.Exec(`INSERT INTO audit_logs (timestamp, actor, action, target, duration_ms, status, error_message) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		utc(l.Timestamp), l.Actor, l.Action, l.Target, l.DurationMs, l.Status, l.ErrorMessage)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	l.ID = id
	return nil
}

func (r *AuditRepo) GetRecent(limit int) ([]core.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`SELECT id, timestamp, actor, action, target, duration_ms, status, error_message FROM audit_logs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []core.AuditLog
	for rows.Next() {
		var l core.AuditLog
		var target, status, errMsg sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Actor, &l.Action, &target, &duration, &status, &errMsg); err != nil {
			return nil, err
		}
		l.Target = target.String
		l.DurationMs = duration.Int64
		l.Status = status.String
		l.ErrorMessage = errMsg.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteBefore removes audit rows older than cutoff.
func (r *AuditRepo) DeleteBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM audit_logs WHERE timestamp < ?`, utc(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
