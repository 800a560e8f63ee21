package data

import (
	"context"
	"database/sql"
	"time"

	"dbinventory/internal/core"
)

type InstanceRepo struct {
	db *sql.DB
}

func NewInstanceRepo(db *sql.DB) *InstanceRepo {
	return &InstanceRepo{db: db}
}

const instanceColumns = `id, name, vendor, host, port, database_name, environment, description, credential_id, is_active, created_at, updated_at, deleted_at`

func scanInstance(s interface{ Scan(...any) error }) (*core.Instance, error) {
	var inst core.Instance
	var dbName, env, desc sql.NullString
	var credID sql.NullInt64
	var isActive int
	var deleted sql.NullTime
	err := s.Scan(&inst.ID, &inst.Name, &inst.Vendor, &inst.Host, &inst.Port, &dbName, &env, &desc,
		&credID, &isActive, &inst.CreatedAt, &inst.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	inst.DatabaseName = dbName.String
	inst.Environment = env.String
	inst.Description = desc.String
	if credID.Valid {
		id := credID.Int64
		inst.CredentialID = &id
	}
	inst.IsActive = isActive == 1
	inst.DeletedAt = fromNullTime(deleted)
	return &inst, nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func (r *InstanceRepo) Create(ctx context.Context, inst *core.Instance) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO instances (name, vendor, host, port, database_name, environment, description, credential_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.Name, inst.Vendor, inst.Host, inst.Port, inst.DatabaseName, inst.Environment, inst.Description,
		nullInt64(inst.CredentialID), boolInt(inst.IsActive), now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	inst.ID = id
	inst.CreatedAt, inst.UpdatedAt = now, now
	return nil
}

func (r *InstanceRepo) GetByID(ctx context.Context, id int64) (*core.Instance, error) {
	inst, err := scanInstance(r.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return inst, nil
}

func (r *InstanceRepo) GetByName(ctx context.Context, name string) (*core.Instance, error) {
	inst, err := scanInstance(r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE name = ? AND deleted_at IS NULL`, name))
	if err != nil {
		return nil, notFound(err)
	}
	return inst, nil
}

func (r *InstanceRepo) GetAll(ctx context.Context, includeDeleted bool) ([]core.Instance, error) {
	q := `SELECT ` + instanceColumns + ` FROM instances`
	if !includeDeleted {
		q += ` WHERE deleted_at IS NULL`
	}
	return r.list(ctx, q+` ORDER BY name`)
}

// ListActive returns instances that are active and not soft-deleted.
func (r *InstanceRepo) ListActive(ctx context.Context) ([]core.Instance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM instances WHERE is_active = 1 AND deleted_at IS NULL ORDER BY name`)
}

func (r *InstanceRepo) list(ctx context.Context, query string, args ...any) ([]core.Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func (r *InstanceRepo) Update(ctx context.Context, inst *core.Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE instances SET name=?, vendor=?, host=?, port=?, database_name=?, environment=?, description=?,
			credential_id=?, is_active=?, updated_at=?
		WHERE id=? AND deleted_at IS NULL`,
		inst.Name, inst.Vendor, inst.Host, inst.Port, inst.DatabaseName, inst.Environment, inst.Description,
		nullInt64(inst.CredentialID), boolInt(inst.IsActive), inst.UpdatedAt, inst.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// SoftDelete marks the instance deleted; rows are kept while history references them.
func (r *InstanceRepo) SoftDelete(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE instances SET deleted_at=?, is_active=0, updated_at=? WHERE id=? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}
