package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"slackassist/internal/domain"

	_ "modernc.org/sqlite"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_id   TEXT PRIMARY KEY,
	claimed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_events_claimed_at ON processed_events(claimed_at);
`

// SQLiteStore records claimed event ids in SQLite. A claim is a single
// insert instead of a whole-file rewrite, which keeps persist cost flat as
// the set grows and allows pruning old claims.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	fallback map[string]struct{} // claims the database could not record
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(eventsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		path:     dbPath,
		logger:   logger,
		fallback: make(map[string]struct{}),
	}, nil
}

// TryClaim implements domain.EventStore. The primary key arbitrates
// concurrent claims: exactly one insert affects a row. When the database is
// unreachable the id goes into an in-process fallback set so the claim still
// stands, matching the file backend's behavior.
func (s *SQLiteStore) TryClaim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.fallback[id]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (event_id, claimed_at) VALUES (?, ?)`,
		id, time.Now().UTC())
	if err != nil {
		s.mu.Lock()
		_, dup := s.fallback[id]
		s.fallback[id] = struct{}{}
		s.mu.Unlock()
		return !dup, &domain.PersistenceError{Op: "claim", Path: s.path, Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, &domain.PersistenceError{Op: "claim", Path: s.path, Err: err}
	}
	return n == 1, nil
}

func (s *SQLiteStore) Contains(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.fallback[id]; ok {
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE event_id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &domain.PersistenceError{Op: "lookup", Path: s.path, Err: err}
	}
	return true, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events`).Scan(&n)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "count", Path: s.path, Err: err}
	}
	s.mu.Lock()
	n += len(s.fallback)
	s.mu.Unlock()
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Prune deletes claims older than the retention window. Zero or negative
// retention keeps everything; the set then only grows, same as the file
// backend.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE claimed_at < ?`, cutoff)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "prune", Path: s.path, Err: err}
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.PersistenceError{Op: "prune", Path: s.path, Err: err}
	}
	if removed > 0 {
		s.logger.Info("pruned old event claims", "removed", removed, "retention", retention)
	}
	return removed, nil
}
