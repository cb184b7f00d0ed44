// Package history persists completed transcripts in a local SQLite
// database, bounded to the configured number of most-recent entries.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"murmur/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id          TEXT PRIMARY KEY,
	text        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_started_at ON transcripts (started_at DESC);
`

// Store is a SQLite-backed transcript history.
type Store struct {
	db         *sql.DB
	maxEntries int
	log        *zap.Logger
}

// Open creates or opens the database at path and applies the schema.
// maxEntries bounds how many rows are retained.
func Open(ctx context.Context, path string, maxEntries int, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if maxEntries <= 0 {
		maxEntries = 50
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db, maxEntries: maxEntries, log: log}, nil
}

// Record inserts one entry and prunes rows beyond the retention bound, in
// one transaction so the table can never settle above the bound.
func (s *Store) Record(ctx context.Context, entry domain.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts (id, text, started_at, ended_at, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Text, entry.StartTime.UnixMilli(), entry.EndTime.UnixMilli(), entry.DurationMs)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM transcripts WHERE id NOT IN (
			SELECT id FROM transcripts ORDER BY started_at DESC, id LIMIT ?
		)`, s.maxEntries)
	if err != nil {
		return fmt.Errorf("prune transcripts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history transaction: %w", err)
	}
	if pruned, err := res.RowsAffected(); err == nil && pruned > 0 {
		s.log.Debug("pruned transcript history", zap.Int64("rows", pruned))
	}
	return nil
}

// Recent returns up to n entries, most recent first.
func (s *Store) Recent(ctx context.Context, n int) ([]domain.HistoryEntry, error) {
	if n <= 0 {
		n = s.maxEntries
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, started_at, ended_at, duration_ms
		 FROM transcripts ORDER BY started_at DESC, id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var startedAt, endedAt int64
		if err := rows.Scan(&entry.ID, &entry.Text, &startedAt, &endedAt, &entry.DurationMs); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		entry.StartTime = time.UnixMilli(startedAt)
		entry.EndTime = time.UnixMilli(endedAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
