package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"dbinventory/internal/core"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite store at path and runs migrations.
// A single connection serialises writers; busy_timeout covers the CLI
// touching the same file while the server runs.
func Open(path string) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_time_format", "sqlite")
	return open("file:" + path + "?" + q.Encode())
}

// OpenMemory returns a migrated private in-memory store.
func OpenMemory() (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_time_format", "sqlite")
	return open("file::memory:?" + q.Encode())
}

func open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

var migrations = []string{
	// 1: operators, api keys, audit
	`
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		is_active INTEGER DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		key_prefix TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		description TEXT,
		created_at DATETIME NOT NULL,
		last_used_at DATETIME,
		is_active INTEGER DEFAULT 1,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT,
		duration_ms INTEGER,
		status TEXT,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	`,
	// 2: registry
	`
	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		password_enc TEXT NOT NULL,
		description TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		vendor TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		database_name TEXT,
		environment TEXT,
		description TEXT,
		credential_id INTEGER REFERENCES credentials(id) ON DELETE SET NULL,
		is_active INTEGER DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_instances_name ON instances(name) WHERE deleted_at IS NULL;
	`,
	// 3: accounts
	`
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id INTEGER NOT NULL REFERENCES instances(id),
		vendor TEXT NOT NULL,
		username TEXT NOT NULL,
		host_qualifier TEXT NOT NULL DEFAULT '',
		account_kind TEXT NOT NULL,
		is_superuser INTEGER NOT NULL DEFAULT 0,
		can_grant INTEGER NOT NULL DEFAULT 0,
		is_locked INTEGER NOT NULL DEFAULT 0,
		password_expired INTEGER NOT NULL DEFAULT 0,
		valid_until DATETIME,
		last_login DATETIME,
		attributes TEXT NOT NULL DEFAULT '{}',
		permissions TEXT NOT NULL DEFAULT '{}',
		errors TEXT NOT NULL DEFAULT '{}',
		hash TEXT NOT NULL,
		last_sync_time DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_accounts_active
		ON accounts(instance_id, username, host_qualifier) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_accounts_instance ON accounts(instance_id);
	`,
	// 4: sync sessions, records, locks
	`
	CREATE TABLE IF NOT EXISTS sync_sessions (
		id TEXT PRIMARY KEY,
		sync_kind TEXT NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		total_instances INTEGER NOT NULL DEFAULT 0,
		successful_instances INTEGER NOT NULL DEFAULT 0,
		failed_instances INTEGER NOT NULL DEFAULT 0,
		cancelled_instances INTEGER NOT NULL DEFAULT 0,
		created_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sync_sessions_started ON sync_sessions(started_at);

	CREATE TABLE IF NOT EXISTS sync_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sync_sessions(id) ON DELETE CASCADE,
		instance_id INTEGER NOT NULL,
		instance_name TEXT,
		status TEXT NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		synced INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		error_code TEXT,
		error_message TEXT,
		details TEXT NOT NULL DEFAULT '{}',
		UNIQUE(session_id, instance_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sync_records_instance ON sync_records(instance_id, status);

	CREATE TABLE IF NOT EXISTS instance_locks (
		instance_id INTEGER PRIMARY KEY,
		session_id TEXT NOT NULL,
		acquired_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	`,
	// 5: classification
	`
	CREATE TABLE IF NOT EXISTS classifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		risk_level TEXT NOT NULL,
		color TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER DEFAULT 1,
		is_system INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS classification_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		classification_id INTEGER NOT NULL REFERENCES classifications(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		vendor TEXT NOT NULL,
		expression TEXT NOT NULL,
		is_active INTEGER DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rules_vendor ON classification_rules(vendor);

	CREATE TABLE IF NOT EXISTS classification_batches (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		scope TEXT,
		total_accounts INTEGER NOT NULL DEFAULT 0,
		matched_accounts INTEGER NOT NULL DEFAULT 0,
		failed_accounts INTEGER NOT NULL DEFAULT 0,
		details TEXT NOT NULL DEFAULT '{}',
		created_by TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS classification_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		classification_id INTEGER NOT NULL REFERENCES classifications(id) ON DELETE CASCADE,
		assignment_type TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1.0,
		batch_id TEXT,
		assigned_by TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_assignments_active
		ON classification_assignments(account_id, classification_id) WHERE is_active = 1;
	`,
	// 6: scheduler
	`
	CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		trigger_spec TEXT NOT NULL,
		action TEXT NOT NULL,
		snippet TEXT,
		paused INTEGER NOT NULL DEFAULT 0,
		is_builtin INTEGER NOT NULL DEFAULT 0,
		last_run_at DATETIME,
		last_status TEXT,
		last_error TEXT,
		created_at DATETIME NOT NULL
	);
	`,
}

// runMigrations applies every migration past PRAGMA user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// notFound maps sql.ErrNoRows to core.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

// withTx runs fn in a transaction, rolling back on error.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
