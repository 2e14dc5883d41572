// Package sqlite keeps the GUID each adapter was created with, so an adapter
// that is deleted and re-created keeps the same device identity.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Identity is one remembered adapter.
type Identity struct {
	Pool      string
	Name      string
	GUID      uuid.UUID
	CreatedAt time.Time
	LastUsed  time.Time
}

// IdentityStore maps (pool, name) to a stable adapter GUID.
type IdentityStore struct {
	db *sql.DB
}

func Open(path string) (*IdentityStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &IdentityStore{db: db}, nil
}

func (s *IdentityStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GUID returns the GUID remembered for the adapter, if any.
func (s *IdentityStore) GUID(ctx context.Context, pool, name string) (uuid.UUID, bool, error) {
	pool, name, err := normalize(pool, name)
	if err != nil {
		return uuid.Nil, false, err
	}

	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT guid FROM adapter_identities WHERE pool = ? AND name = ?`, pool, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("query adapter %s/%s: %w", pool, name, err)
	}
	guid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse stored guid for %s/%s: %w", pool, name, err)
	}
	return guid, true, nil
}

// Ensure returns the adapter's GUID, minting and storing a random one the
// first time the adapter is seen. Each call refreshes the last-used time.
func (s *IdentityStore) Ensure(ctx context.Context, pool, name string) (uuid.UUID, error) {
	pool, name, err := normalize(pool, name)
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO adapter_identities (pool, name, guid, created_at, last_used) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(pool, name) DO UPDATE SET last_used = excluded.last_used`,
		pool, name, uuid.NewString(), now, now,
	); err != nil {
		return uuid.Nil, fmt.Errorf("upsert adapter %s/%s: %w", pool, name, err)
	}

	guid, found, err := s.GUID(ctx, pool, name)
	if err != nil {
		return uuid.Nil, err
	}
	if !found {
		return uuid.Nil, fmt.Errorf("adapter %s/%s missing after upsert", pool, name)
	}
	return guid, nil
}

// Forget drops the adapter's GUID. The next Ensure mints a new one.
func (s *IdentityStore) Forget(ctx context.Context, pool, name string) error {
	pool, name, err := normalize(pool, name)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM adapter_identities WHERE pool = ? AND name = ?`, pool, name); err != nil {
		return fmt.Errorf("delete adapter %s/%s: %w", pool, name, err)
	}
	return nil
}

// List returns every remembered adapter ordered by pool and name.
func (s *IdentityStore) List(ctx context.Context) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pool, name, guid, created_at, last_used FROM adapter_identities ORDER BY pool, name`)
	if err != nil {
		return nil, fmt.Errorf("list adapters: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var (
			id                      Identity
			guid, created, lastUsed string
		)
		if err := rows.Scan(&id.Pool, &id.Name, &guid, &created, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan adapter: %w", err)
		}
		if id.GUID, err = uuid.Parse(guid); err != nil {
			return nil, fmt.Errorf("parse stored guid for %s/%s: %w", id.Pool, id.Name, err)
		}
		if id.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %s/%s: %w", id.Pool, id.Name, err)
		}
		if id.LastUsed, err = time.Parse(time.RFC3339Nano, lastUsed); err != nil {
			return nil, fmt.Errorf("parse last_used for %s/%s: %w", id.Pool, id.Name, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adapters: %w", err)
	}
	return out, nil
}

func normalize(pool, name string) (string, string, error) {
	pool = strings.TrimSpace(pool)
	name = strings.TrimSpace(name)
	if pool == "" {
		return "", "", fmt.Errorf("pool is required")
	}
	if name == "" {
		return "", "", fmt.Errorf("adapter name is required")
	}
	return pool, name, nil
}

func ensureSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS adapter_identities (
	pool TEXT NOT NULL,
	name TEXT NOT NULL,
	guid TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_used TEXT NOT NULL,
	PRIMARY KEY (pool, name)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create adapter identity schema: %w", err)
	}
	return nil
}
