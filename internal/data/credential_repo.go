package data

import (
	"context"
	"database/sql"
	"time"

	"dbinventory/internal/core"
)

type CredentialRepo struct {
	db *sql.DB
}

func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

func (r *CredentialRepo) Create(ctx context.Context, c *core.Credential) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `INSERT INTO credentials (name, username, password_enc, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Name, c.Username, c.PasswordEnc, c.Description, now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

const credentialColumns = `id, name, username, password_enc, description, created_at, updated_at`

func scanCredential(s interface{ Scan(...any) error }) (*core.Credential, error) {
	var c core.Credential
	var desc sql.NullString
	if err := s.Scan(&c.ID, &c.Name, &c.Username, &c.PasswordEnc, &desc, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Description = desc.String
	return &c, nil
}

func (r *CredentialRepo) GetByID(ctx context.Context, id int64) (*core.Credential, error) {
	c, err := scanCredential(r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *CredentialRepo) GetAll(ctx context.Context) ([]core.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []core.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

func (r *CredentialRepo) Update(ctx context.Context, c *core.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE credentials SET name=?, username=?, password_enc=?, description=?, updated_at=? WHERE id=?`,
		c.Name, c.Username, c.PasswordEnc, c.Description, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *CredentialRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}
