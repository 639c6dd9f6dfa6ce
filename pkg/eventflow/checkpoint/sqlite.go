package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/eventflow/pkg/eventflow"
)

// SQLiteStore persists positions to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS consumer_offsets (
			consumer TEXT NOT NULL,
			stream TEXT NOT NULL,
			"offset" INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (consumer, stream)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, consumer, stream string, offset eventflow.Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consumer_offsets (consumer, stream, "offset", sequence, updated_at)
		VALUES (
			?, ?, ?,
			COALESCE((SELECT MAX(sequence) FROM consumer_offsets WHERE consumer = ?), 0) + 1,
			?
		)
		ON CONFLICT(consumer, stream) DO UPDATE SET
			"offset" = excluded."offset",
			sequence = (SELECT MAX(sequence) FROM consumer_offsets WHERE consumer = excluded.consumer) + 1,
			updated_at = excluded.updated_at
	`, consumer, stream, int64(offset), consumer, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, consumer, stream string) (eventflow.Offset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var offset int64
	err := s.db.QueryRowContext(ctx, `
		SELECT "offset" FROM consumer_offsets
		WHERE consumer = ? AND stream = ?
	`, consumer, stream).Scan(&offset)

	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return eventflow.Offset(offset), nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, consumer string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stream, "offset", sequence, updated_at
		FROM consumer_offsets
		WHERE consumer = ?
		ORDER BY sequence
	`, consumer)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info      Info
			offset    int64
			updatedAt string
		)
		if err := rows.Scan(&info.Stream, &offset, &info.Sequence, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint info: %w", err)
		}
		info.Consumer = consumer
		info.Offset = eventflow.Offset(offset)
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	return infos, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, consumer, stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM consumer_offsets
		WHERE consumer = ? AND stream = ?
	`, consumer, stream)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteConsumer implements Store.
func (s *SQLiteStore) DeleteConsumer(ctx context.Context, consumer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM consumer_offsets WHERE consumer = ?
	`, consumer)
	if err != nil {
		return fmt.Errorf("delete consumer checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
