package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite access for detail rows, channel rows and ingest runs.
type Store struct {
	db *sqlx.DB
}

// Open opens (and creates if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", abs)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for i, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS DetailRow (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		Details TEXT,
		Value TEXT,
		Status TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS ChannelRow (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		Channel TEXT,
		Name TEXT,
		Status TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		classifier TEXT NOT NULL,
		state TEXT NOT NULL,
		rows_read INTEGER NOT NULL DEFAULT 0,
		rows_inserted INTEGER NOT NULL DEFAULT 0,
		rows_skipped INTEGER NOT NULL DEFAULT 0,
		rows_truncated INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);`,
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	var v int
	if err := s.db.GetContext(ctx, &v, `SELECT 1`); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
