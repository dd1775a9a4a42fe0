package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// NOTE: table schema (Postgres and SQLite accept the same DDL):
// CREATE TABLE kv_entries (
//   key TEXT PRIMARY KEY,
//   value TEXT NOT NULL,
//   updated_at TIMESTAMP NOT NULL
// );

// Repo is the SQL-backed kv.Store. Placeholders are written as ? and rebound
// for the connected driver.
type Repo struct {
	db *sqlx.DB
}

func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// EnsureTable creates the kv_entries table if not exists (idempotent).
func (r *Repo) EnsureTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS kv_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *Repo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	q := r.db.Rebind(`SELECT value FROM kv_entries WHERE key = ?`)
	if err := r.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// Set upserts key. Last write wins.
func (r *Repo) Set(ctx context.Context, key, value string) error {
	q := r.db.Rebind(`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`)
	_, err := r.db.ExecContext(ctx, q, key, value)
	return err
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM kv_entries WHERE key = ?`), key)
	return err
}
