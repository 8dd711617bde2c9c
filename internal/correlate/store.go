package correlate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one durably cached request outcome.
type Record struct {
	RequestID   string
	Fingerprint string
	Payload     []byte
	CompletedAt time.Time
}

// Store persists completed request correlations in SQLite so idempotent
// retries survive an adapter restart.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the correlation store.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS processed_requests (
			request_id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			payload BLOB NOT NULL,
			completed_unix_micros INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_completed
			ON processed_requests(completed_unix_micros)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// Get returns the cached record for a request id, if any.
func (s *Store) Get(ctx context.Context, requestID string) (Record, bool, error) {
	var rec Record
	var micros int64
	err := s.db.QueryRowContext(ctx,
		"SELECT request_id, fingerprint, payload, completed_unix_micros FROM processed_requests WHERE request_id = ?",
		requestID,
	).Scan(&rec.RequestID, &rec.Fingerprint, &rec.Payload, &micros)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query processed request: %w", err)
	}
	rec.CompletedAt = time.UnixMicro(micros)
	return rec, true, nil
}

// Put inserts or replaces a completed record.
func (s *Store) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO processed_requests (request_id, fingerprint, payload, completed_unix_micros)
		 VALUES (?, ?, ?, ?)`,
		rec.RequestID, rec.Fingerprint, rec.Payload, rec.CompletedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("insert processed request: %w", err)
	}
	return nil
}

// Prune removes records completed before the cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_requests WHERE completed_unix_micros < ?",
		cutoff.UnixMicro(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune processed requests: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
