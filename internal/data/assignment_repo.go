package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dbinventory/internal/core"

	"github.com/goccy/go-json"
)

// AssignmentRepo stores classification assignments and classification batches.
type AssignmentRepo struct {
	db *sql.DB
}

func NewAssignmentRepo(db *sql.DB) *AssignmentRepo {
	return &AssignmentRepo{db: db}
}

func (r *AssignmentRepo) CreateBatch(ctx context.Context, b *core.ClassificationBatch) error {
	details, err := json.Marshal(b.Details)
	if err != nil {
		return err
	}
	b.StartedAt = b.StartedAt.UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO classification_batches (id, status, scope, total_accounts, matched_accounts, failed_accounts, details, created_by, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Status, b.Scope, b.TotalAccounts, b.MatchedAccounts, b.FailedAccounts, string(details), b.CreatedBy, b.StartedAt)
	return err
}

// FinishBatch writes the final counts, details and status.
func (r *AssignmentRepo) FinishBatch(ctx context.Context, b *core.ClassificationBatch) error {
	details, err := json.Marshal(b.Details)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE classification_batches SET status=?, total_accounts=?, matched_accounts=?, failed_accounts=?, details=?, completed_at=?
		WHERE id=?`,
		b.Status, b.TotalAccounts, b.MatchedAccounts, b.FailedAccounts, string(details), nullTime(b.CompletedAt), b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

const batchColumns = `id, status, scope, total_accounts, matched_accounts, failed_accounts, details, created_by, started_at, completed_at`

func scanBatch(s interface{ Scan(...any) error }) (*core.ClassificationBatch, error) {
	var b core.ClassificationBatch
	var scope, createdBy sql.NullString
	var details string
	var completed sql.NullTime
	err := s.Scan(&b.ID, &b.Status, &scope, &b.TotalAccounts, &b.MatchedAccounts, &b.FailedAccounts, &details, &createdBy, &b.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	b.Scope = scope.String
	b.CreatedBy = createdBy.String
	b.CompletedAt = fromNullTime(completed)
	if details != "" {
		if err := json.Unmarshal([]byte(details), &b.Details); err != nil {
			return nil, fmt.Errorf("batch %s details: %w", b.ID, err)
		}
	}
	return &b, nil
}

func (r *AssignmentRepo) GetBatch(ctx context.Context, id string) (*core.ClassificationBatch, error) {
	b, err := scanBatch(r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM classification_batches WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (r *AssignmentRepo) ListBatches(ctx context.Context, limit int) ([]core.ClassificationBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+batchColumns+` FROM classification_batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ClassificationBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

const assignmentColumns = `id, account_id, classification_id, assignment_type, confidence, batch_id, assigned_by, is_active, created_at, updated_at`

func scanAssignment(s interface{ Scan(...any) error }) (*core.Assignment, error) {
	var a core.Assignment
	var batchID, assignedBy sql.NullString
	var active int
	err := s.Scan(&a.ID, &a.AccountID, &a.ClassificationID, &a.AssignmentType, &a.Confidence, &batchID, &assignedBy, &active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.BatchID = batchID.String
	a.AssignedBy = assignedBy.String
	a.IsActive = active == 1
	return &a, nil
}

func (r *AssignmentRepo) listAssignments(ctx context.Context, q string, args ...any) ([]core.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ActiveByAccounts returns the active assignments of each account.
func (r *AssignmentRepo) ActiveByAccounts(ctx context.Context, accountIDs []int64) (map[int64][]core.Assignment, error) {
	out := make(map[int64][]core.Assignment, len(accountIDs))
	const chunk = 500
	for start := 0; start < len(accountIDs); start += chunk {
		end := min(start+chunk, len(accountIDs))
		ids := accountIDs[start:end]
		list, err := r.listAssignments(ctx, `SELECT `+assignmentColumns+` FROM classification_assignments
			WHERE is_active = 1 AND account_id IN (`+placeholders(len(ids))+`) ORDER BY id`, int64Args(ids)...)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			out[a.AccountID] = append(out[a.AccountID], a)
		}
	}
	return out, nil
}

func (r *AssignmentRepo) ListActive(ctx context.Context, classificationID int64) ([]core.Assignment, error) {
	q := `SELECT ` + assignmentColumns + ` FROM classification_assignments WHERE is_active = 1`
	var args []any
	if classificationID > 0 {
		q += ` AND classification_id = ?`
		args = append(args, classificationID)
	}
	return r.listAssignments(ctx, q+` ORDER BY account_id, classification_id`, args...)
}

// Upsert creates or refreshes the active assignment for
// (account, classification). A manual row stays manual.
func (r *AssignmentRepo) Upsert(ctx context.Context, a *core.Assignment) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classification_assignments (account_id, classification_id, assignment_type, confidence, batch_id, assigned_by, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(account_id, classification_id) WHERE is_active = 1 DO UPDATE SET
			assignment_type = CASE WHEN assignment_type = 'manual' THEN 'manual' ELSE excluded.assignment_type END,
			confidence = excluded.confidence,
			batch_id = excluded.batch_id,
			assigned_by = COALESCE(NULLIF(excluded.assigned_by, ''), assigned_by),
			updated_at = excluded.updated_at`,
		a.AccountID, a.ClassificationID, a.AssignmentType, a.Confidence, a.BatchID, a.AssignedBy, now, now)
	if err != nil {
		return err
	}
	got, err := scanAssignment(r.db.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM classification_assignments
		WHERE account_id = ? AND classification_id = ? AND is_active = 1`, a.AccountID, a.ClassificationID))
	if err != nil {
		return err
	}
	*a = *got
	return nil
}

// Deactivate flips the given assignment rows to inactive.
func (r *AssignmentRepo) Deactivate(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{time.Now().UTC()}, int64Args(ids)...)
	_, err := r.db.ExecContext(ctx, `UPDATE classification_assignments SET is_active = 0, updated_at = ?
		WHERE is_active = 1 AND id IN (`+placeholders(len(ids))+`)`, args...)
	return err
}

// DeactivateForAccounts deactivates every active assignment of the given type
// on the accounts. An empty type matches both.
func (r *AssignmentRepo) DeactivateForAccounts(ctx context.Context, accountIDs []int64, t core.AssignmentType) (int64, error) {
	if len(accountIDs) == 0 {
		return 0, nil
	}
	q := `UPDATE classification_assignments SET is_active = 0, updated_at = ?
		WHERE is_active = 1 AND account_id IN (` + placeholders(len(accountIDs)) + `)`
	args := append([]any{time.Now().UTC()}, int64Args(accountIDs)...)
	if t != "" {
		q += ` AND assignment_type = ?`
		args = append(args, t)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
