package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS processed_messages (
		message_id TEXT PRIMARY KEY,
		seen_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_messages_seen_at
		ON processed_messages (seen_at)`,
}

// SQLiteStore implements ProcessedStore on a SQLite database, so dedup
// state survives restarts of a single-instance deployment.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store requires a path")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// MarkProcessed purges expired rows and inserts id in one transaction;
// the insert only takes effect when no unexpired row holds the id.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	cutoff := now.Add(-ttl).UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM processed_messages WHERE seen_at < ?`, cutoff); err != nil {
		return false, fmt.Errorf("purge processed: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (message_id, seen_at) VALUES (?, ?)`,
		id, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns the record for id, or nil when none is stored.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*ProcessedRecord, error) {
	var seen int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seen_at FROM processed_messages WHERE message_id = ?`, id).Scan(&seen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ProcessedRecord{MessageID: id, SeenAt: time.UnixMilli(seen)}, nil
}
