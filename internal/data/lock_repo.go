package data

import (
	"context"
	"database/sql"
	"time"

	"dbinventory/internal/core"
)

// LockRepo persists instance locks in the instance_locks table.
type LockRepo struct {
	db *sql.DB
}

func NewLockRepo(db *sql.DB) *LockRepo {
	return &LockRepo{db: db}
}

// Acquire reaps expired locks and then inserts a row for the instance.
// It reports false if a live lock is held by anyone, including sessionID.
func (r *LockRepo) Acquire(ctx context.Context, instanceID int64, sessionID string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	var acquired bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM instance_locks WHERE expires_at <= ?`, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO instance_locks (instance_id, session_id, acquired_at, expires_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(instance_id) DO NOTHING`, instanceID, sessionID, now, now.Add(ttl))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		acquired = n == 1
		return err
	})
	return acquired, err
}

// Extend pushes the expiry of a live lock held by sessionID to now+ttl.
// It reports false if the lock expired or belongs to another session.
func (r *LockRepo) Extend(ctx context.Context, instanceID int64, sessionID string, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE instance_locks SET expires_at = ?
		WHERE instance_id = ? AND session_id = ? AND expires_at > ?`, now.Add(ttl), instanceID, sessionID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Release deletes the lock only if sessionID holds it.
func (r *LockRepo) Release(ctx context.Context, instanceID int64, sessionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM instance_locks WHERE instance_id = ? AND session_id = ?`, instanceID, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *LockRepo) ReapExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM instance_locks WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *LockRepo) Get(ctx context.Context, instanceID int64) (*core.InstanceLock, error) {
	var l core.InstanceLock
	err := r.db.QueryRowContext(ctx, `SELECT instance_id, session_id, acquired_at, expires_at FROM instance_locks WHERE instance_id = ?`, instanceID).
		Scan(&l.InstanceID, &l.SessionID, &l.AcquiredAt, &l.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (r *LockRepo) List(ctx context.Context) ([]core.InstanceLock, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT instance_id, session_id, acquired_at, expires_at FROM instance_locks ORDER BY instance_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.InstanceLock
	for rows.Next() {
		var l core.InstanceLock
		if err := rows.Scan(&l.InstanceID, &l.SessionID, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
