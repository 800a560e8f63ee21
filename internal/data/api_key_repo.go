package data

import (
	"database/sql"
	"errors"
	"time"

	"dbinventory/internal/core"
)

type ApiKeyRepo struct {
	db *sql.DB
}

func NewApiKeyRepo(db *sql.DB) *ApiKeyRepo {
	return &ApiKeyRepo{db: db}
}

func (r *ApiKeyRepo) Create(key *core.ApiKey) error {
	query := `
		INSERT INTO api_keys (user_id, key_prefix, key_hash, description, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Exec(query, key.UserID, key.KeyPrefix, key.KeyHash, key.Description, utc(key.CreatedAt), boolInt(key.IsActive))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	key.ID = id
	return nil
}

func (r *ApiKeyRepo) List() ([]core.ApiKey, error) {
	query := `
		SELECT id, user_id, key_prefix, description, created_at, last_used_at, is_active
		FROM api_keys
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []core.ApiKey
	for rows.Next() {
		var k core.ApiKey
		var lastUsed sql.NullTime
		var desc sql.NullString
		var isActive int
		if err := rows.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &desc, &k.CreatedAt, &lastUsed, &isActive); err != nil {
			return nil, err
		}
		k.LastUsedAt = fromNullTime(lastUsed)
		k.Description = desc.String
		k.IsActive = isActive == 1
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetByHash returns the active key with the given hash, or nil when none matches.
func (r *ApiKeyRepo) GetByHash(hash string) (*core.ApiKey, error) {
	query := `
		SELECT id, user_id, key_prefix, key_hash, description, created_at, last_used_at, is_active
		FROM api_keys
		WHERE key_hash = ? AND is_active = 1
	`
	var k core.ApiKey
	var lastUsed sql.NullTime
	var desc sql.NullString
	var isActive int
	err := r.db.QueryRow(query, hash).Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.KeyHash, &desc, &k.CreatedAt, &lastUsed, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	k.LastUsedAt = fromNullTime(lastUsed)
	k.Description = desc.String
	k.IsActive = isActive == 1
	return &k, nil
}

func (r *ApiKeyRepo) Revoke(id int64) error {
	res, err := r.db.Exec(`UPDATE api_keys SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *ApiKeyRepo) UpdateLastUsed(id int64) error {
	_, err := r.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}
