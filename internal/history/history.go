// Package history stores per-batch and per-file download records in a local
// SQLite database, so past runs can be inspected after the terminal output
// is gone.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lockerfetch/lockerfetch/internal/transfer"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count   INTEGER NOT NULL DEFAULT 0,
	skipped_count INTEGER NOT NULL DEFAULT 0,
	total_bytes   INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS transfers (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id    TEXT NOT NULL REFERENCES batches(id),
	source_url  TEXT NOT NULL,
	file_name   TEXT,
	outcome     TEXT NOT NULL,
	error_kind  TEXT,
	http_status INTEGER,
	bytes       INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	speed_bps   REAL NOT NULL DEFAULT 0,
	error       TEXT,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfers_batch ON transfers(batch_id);
`

// Store is a SQLite-backed history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and if needed creates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// BeginBatch creates a batch row and returns its id.
func (s *Store) BeginBatch(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, started_at) VALUES (?, ?)`, id, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("begin batch: %w", err)
	}
	return id, nil
}

// RecordTransfer appends one task outcome to the batch.
func (s *Store) RecordTransfer(ctx context.Context, batchID string, res transfer.Result) error {
	var errText sql.NullString
	if res.Err != nil {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers
			(batch_id, source_url, file_name, outcome, error_kind, http_status,
			 bytes, duration_ms, speed_bps, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, res.SourceURL, res.FileName, res.Outcome.String(), res.Kind.String(),
		res.Status, res.Bytes, res.Duration.Milliseconds(), res.SpeedBps, errText,
		s.now().UTC())
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}

// FinishBatch stamps the batch with its final counters.
func (s *Store) FinishBatch(ctx context.Context, batchID string, success, failed, skipped int, totalBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET finished_at = ?, success_count = ?, error_count = ?, skipped_count = ?, total_bytes = ?
		WHERE id = ?`,
		s.now().UTC(), success, failed, skipped, totalBytes, batchID)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// BatchSummary is a finished batch as stored.
type BatchSummary struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	SuccessCount int
	ErrorCount   int
	SkippedCount int
	TotalBytes   int64
}

// RecentBatches returns up to limit batches, newest first.
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, success_count, error_count, skipped_count, total_bytes
		FROM batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var b BatchSummary
		if err := rows.Scan(&b.ID, &b.StartedAt, &b.FinishedAt,
			&b.SuccessCount, &b.ErrorCount, &b.SkippedCount, &b.TotalBytes); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
