package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single-table SQLite database, so snapshots
// and chart history survive process restarts. Change events are emitted
// in-process after the row is committed.
type SQLite struct {
	notifier

	db *sql.DB
	mu sync.Mutex
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL keeps readers unblocked while the sync loop writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	old, _ := s.Get(ctx, key)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}

	s.publish(Event{Key: key, OldValue: old, NewValue: append([]byte(nil), value...)})
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	old, _ := s.Get(ctx, key)
	res, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("kv remove %s: %w", key, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(Event{Key: key, OldValue: old})
	}
	return nil
}

func (s *SQLite) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.notifier.Subscribe(fn)
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }
