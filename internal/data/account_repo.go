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

// AccountRepo stores the current account snapshot per instance.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `id, instance_id, vendor, username, host_qualifier, account_kind, is_superuser, can_grant,
	is_locked, password_expired, valid_until, last_login, attributes, permissions, errors, hash,
	last_sync_time, created_at, updated_at, deleted_at`

func scanAccount(s interface{ Scan(...any) error }) (*core.Account, error) {
	var a core.Account
	var superuser, canGrant, locked, expired int
	var validUntil, lastLogin, deleted sql.NullTime
	var attrs, perms, errs string
	err := s.Scan(&a.ID, &a.InstanceID, &a.Vendor, &a.Username, &a.HostQualifier, &a.Kind,
		&superuser, &canGrant, &locked, &expired, &validUntil, &lastLogin, &attrs, &perms, &errs,
		&a.Hash, &a.LastSyncTime, &a.CreatedAt, &a.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	a.IsSuperuser = superuser == 1
	a.CanGrant = canGrant == 1
	a.IsLocked = locked == 1
	a.PasswordExpired = expired == 1
	a.ValidUntil = fromNullTime(validUntil)
	a.LastLogin = fromNullTime(lastLogin)
	a.DeletedAt = fromNullTime(deleted)
	if err := decodeStringMap(attrs, &a.Attributes); err != nil {
		return nil, fmt.Errorf("account %d attributes: %w", a.ID, err)
	}
	if err := decodeStringMap(errs, &a.Errors); err != nil {
		return nil, fmt.Errorf("account %d errors: %w", a.ID, err)
	}
	a.Permissions, err = core.DecodePermissions(a.Vendor, []byte(perms))
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", a.ID, err)
	}
	return &a, nil
}

func decodeStringMap(raw string, dst *map[string]string) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func encodeStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (r *AccountRepo) query(ctx context.Context, q string, args ...any) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListActiveByInstance returns every non-deleted account of the instance.
func (r *AccountRepo) ListActiveByInstance(ctx context.Context, instanceID int64) ([]core.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE instance_id = ? AND deleted_at IS NULL
		ORDER BY username, host_qualifier`, instanceID)
}

// ListActive returns non-deleted accounts of active instances narrowed by f,
// with permissions decoded in the same pass.
func (r *AccountRepo) ListActive(ctx context.Context, f core.AccountFilter) ([]core.Account, error) {
	where := []string{"a.deleted_at IS NULL", "i.deleted_at IS NULL"}
	var args []any
	if f.InstanceID > 0 {
		where = append(where, "a.instance_id = ?")
		args = append(args, f.InstanceID)
	}
	if f.Vendor != "" {
		where = append(where, "a.vendor = ?")
		args = append(args, f.Vendor)
	}
	if len(f.AccountIDs) > 0 {
		where = append(where, "a.id IN ("+placeholders(len(f.AccountIDs))+")")
		args = append(args, int64Args(f.AccountIDs)...)
	}
	cols := "a." + strings.Join(strings.Fields(strings.ReplaceAll(accountColumns, ",", " ")), ", a.")
	q := `SELECT ` + cols + ` FROM accounts a JOIN instances i ON i.id = a.instance_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY a.instance_id, a.username, a.host_qualifier`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	return r.query(ctx, q, args...)
}

func (r *AccountRepo) GetByID(ctx context.Context, id int64) (*core.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListDeletedIDs returns the ids of tombstoned accounts of an instance.
func (r *AccountRepo) ListDeletedIDs(ctx context.Context, instanceID int64) ([]int64, error) {
	q := `SELECT id FROM accounts WHERE deleted_at IS NOT NULL`
	var args []any
	if instanceID > 0 {
		q += ` AND instance_id = ?`
		args = append(args, instanceID)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const upsertAccount = `
	INSERT INTO accounts (instance_id, vendor, username, host_qualifier, account_kind, is_superuser, can_grant,
		is_locked, password_expired, valid_until, last_login, attributes, permissions, errors, hash,
		last_sync_time, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(instance_id, username, host_qualifier) WHERE deleted_at IS NULL DO UPDATE SET
		account_kind = excluded.account_kind,
		is_superuser = excluded.is_superuser,
		can_grant = excluded.can_grant,
		is_locked = excluded.is_locked,
		password_expired = excluded.password_expired,
		valid_until = excluded.valid_until,
		last_login = excluded.last_login,
		attributes = excluded.attributes,
		permissions = excluded.permissions,
		errors = excluded.errors,
		hash = excluded.hash,
		last_sync_time = excluded.last_sync_time,
		updated_at = excluded.updated_at`

// ApplyBatch applies one batch of changes in a single transaction. On the
// first failing change the whole batch is rolled back and a
// *core.ChangeError naming it is returned.
func (r *AccountRepo) ApplyBatch(ctx context.Context, instanceID int64, vendor core.Vendor, batch core.ChangeList, now time.Time) (core.ChangeCounts, error) {
	var counts core.ChangeCounts
	now = now.UTC()
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, upsertAccount)
		if err != nil {
			return err
		}
		defer upsert.Close()

		for _, ch := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := applyChange(ctx, tx, upsert, instanceID, vendor, ch, now); err != nil {
				return &core.ChangeError{Change: ch, Err: err}
			}
			switch ch.Kind {
			case core.ChangeCreate:
				counts.Created++
			case core.ChangeUpdate:
				counts.Updated++
			case core.ChangeTombstone:
				counts.Deleted++
			case core.ChangeNoChange:
				counts.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return core.ChangeCounts{}, err
	}
	return counts, nil
}

func applyChange(ctx context.Context, tx *sql.Tx, upsert *sql.Stmt, instanceID int64, vendor core.Vendor, ch core.Change, now time.Time) error {
	switch ch.Kind {
	case core.ChangeCreate, core.ChangeUpdate:
		rec := ch.Record
		if rec == nil {
			return fmt.Errorf("missing record")
		}
		perms, err := core.EncodePermissions(rec.Permissions)
		if err != nil {
			return err
		}
		attrs, err := encodeStringMap(rec.Attributes)
		if err != nil {
			return err
		}
		errs, err := encodeStringMap(rec.Errors)
		if err != nil {
			return err
		}
		hash := ch.Hash
		if hash == "" {
			if hash, err = core.StructuralHash(*rec); err != nil {
				return err
			}
		}
		_, err = upsert.ExecContext(ctx, instanceID, vendor, rec.Username, rec.HostQualifier, rec.Kind,
			boolInt(rec.IsSuperuser), boolInt(rec.CanGrant), boolInt(rec.IsLocked), boolInt(rec.PasswordExpired),
			nullTime(rec.ValidUntil), nullTime(rec.LastLogin), attrs, string(perms), errs, hash, now, now, now)
		return err
	case core.ChangeTombstone:
		if ch.Prev == nil {
			return fmt.Errorf("missing previous row")
		}
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
			now, now, ch.Prev.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %d already deleted", ch.Prev.ID)
		}
		return nil
	case core.ChangeNoChange:
		if ch.Prev == nil {
			return fmt.Errorf("missing previous row")
		}
		// last_login moves without changing the hash
		var lastLogin any
		if ch.Record != nil {
			lastLogin = nullTime(ch.Record.LastLogin)
		} else {
			lastLogin = nullTime(ch.Prev.LastLogin)
		}
		_, err := tx.ExecContext(ctx, `UPDATE accounts SET last_sync_time = ?, last_login = ? WHERE id = ?`, now, lastLogin, ch.Prev.ID)
		return err
	}
	return fmt.Errorf("unknown change kind %q", ch.Kind)
}
