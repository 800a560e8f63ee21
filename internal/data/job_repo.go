package data

import (
	"context"
	"database/sql"
	"time"

	"dbinventory/internal/core"
)

// JobRepo is the scheduler's persistent job store.
type JobRepo struct {
	db *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

// Save inserts the job or replaces its definition. Run history is kept.
func (r *JobRepo) Save(ctx context.Context, j *core.ScheduledJob) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, name, trigger_spec, action, snippet, paused, is_builtin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, trigger_spec = excluded.trigger_spec,
			action = excluded.action, snippet = excluded.snippet, paused = excluded.paused, is_builtin = excluded.is_builtin`,
		j.ID, j.Name, j.Trigger, j.Action, j.Snippet, boolInt(j.Paused), boolInt(j.IsBuiltin), utc(j.CreatedAt))
	return err
}

const jobColumns = `id, name, trigger_spec, action, snippet, paused, is_builtin, last_run_at, last_status, last_error, created_at`

func scanJob(s interface{ Scan(...any) error }) (*core.ScheduledJob, error) {
	var j core.ScheduledJob
	var snippet, status, lastErr sql.NullString
	var paused, builtin int
	var lastRun sql.NullTime
	err := s.Scan(&j.ID, &j.Name, &j.Trigger, &j.Action, &snippet, &paused, &builtin, &lastRun, &status, &lastErr, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.Snippet = snippet.String
	j.Paused = paused == 1
	j.IsBuiltin = builtin == 1
	j.LastRunAt = fromNullTime(lastRun)
	j.LastStatus = status.String
	j.LastError = lastErr.String
	return &j, nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*core.ScheduledJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

func (r *JobRepo) GetAll(ctx context.Context) ([]core.ScheduledJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY is_builtin DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r *JobRepo) SetPaused(ctx context.Context, id string, paused bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE scheduled_jobs SET paused = ? WHERE id = ?`, boolInt(paused), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *JobRepo) RecordRun(ctx context.Context, id string, at time.Time, status, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_jobs SET last_run_at = ?, last_status = ?, last_error = ? WHERE id = ?`,
		at.UTC(), status, errMsg, id)
	return err
}

func (r *JobRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}
