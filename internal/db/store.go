package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Session value keys. The three are always written and removed together.
const (
	KeyToken = "token"
	KeyRole  = "role"
	KeyName  = "name"
)

var sessionKeys = []string{KeyToken, KeyRole, KeyName}

type Store struct {
	db   *sql.DB
	path string
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// NewWithDB wraps an already opened handle. Path is empty, so callers that
// watch the file on disk have nothing to watch.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Path() string {
	return s.path
}

// SessionValues returns the persisted session keys. Missing keys are absent
// from the map.
func (s *Store) SessionValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_values`)
	if err != nil {
		return nil, fmt.Errorf("query session values: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]string, len(sessionKeys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan session value: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session values: %w", err)
	}
	return out, nil
}

// ReplaceSessionValues swaps all session keys in one transaction.
func (s *Store) ReplaceSessionValues(ctx context.Context, values map[string]string) error {
	for key := range values {
		if !isSessionKey(key) {
			return fmt.Errorf("unknown session key %q", key)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_values`); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear session values: %w", err)
	}
	now := ts(time.Now())
	for _, key := range sessionKeys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_values(key, value, updated_at) VALUES (?, ?, ?)`, key, value, now); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert session value %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session tx: %w", err)
	}
	return nil
}

func (s *Store) DeleteSessionValues(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_values`); err != nil {
		return fmt.Errorf("delete session values: %w", err)
	}
	return nil
}

func isSessionKey(key string) bool {
	for _, k := range sessionKeys {
		if k == key {
			return true
		}
	}
	return false
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
