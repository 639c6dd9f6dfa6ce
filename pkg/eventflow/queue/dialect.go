package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MaxTopicLength is the widest topic the queue table accepts.
const MaxTopicLength = 64

// Dialect adapts SQLQueue to one database engine.
type Dialect interface {
	// Name identifies the dialect in logs and errors.
	Name() string

	// Schema returns the statements creating the queue and history tables.
	Schema() []string

	// Rebind rewrites "?" placeholders into the engine's style.
	Rebind(query string) string

	// LockTopic picks the topic with the oldest entry that no other reader
	// holds and locks it for the lifetime of tx. ok is false when nothing
	// is available.
	LockTopic(ctx context.Context, tx *sql.Tx) (topic string, ok bool, err error)

	// RowLock is appended to the batch select.
	RowLock() string
}

// Postgres allows one reader per topic through transaction-scoped advisory
// locks, so different topics drain concurrently while each stays FIFO.
type Postgres struct{}

// Name implements Dialect.
func (Postgres) Name() string { return "postgres" }

// Schema implements Dialect.
func (Postgres) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS event_queue (
			"offset" BIGSERIAL PRIMARY KEY,
			topic VARCHAR(64) NOT NULL,
			content_type VARCHAR(32) NOT NULL,
			data BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_queue_topic ON event_queue (topic, "offset")`,
		`CREATE TABLE IF NOT EXISTS event_history (
			"offset" BIGINT PRIMARY KEY,
			topic VARCHAR(64) NOT NULL,
			content_type VARCHAR(32) NOT NULL,
			data BYTEA NOT NULL,
			archived_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
}

// Rebind implements Dialect.
func (Postgres) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// candidateTopics bounds how many topics one LockTopic call tries.
const candidateTopics = 16

// LockTopic implements Dialect.
func (Postgres) LockTopic(ctx context.Context, tx *sql.Tx) (string, bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT topic FROM event_queue
		GROUP BY topic
		ORDER BY MIN("offset")
		LIMIT $1
	`, candidateTopics)
	if err != nil {
		return "", false, fmt.Errorf("list topics: %w", err)
	}
	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			rows.Close()
			return "", false, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("iterate topics: %w", err)
	}

	for _, topic := range topics {
		var locked bool
		if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, topicLockKey(topic)).Scan(&locked); err != nil {
			return "", false, fmt.Errorf("lock topic %q: %w", topic, err)
		}
		if locked {
			return topic, true, nil
		}
	}
	return "", false, nil
}

// RowLock implements Dialect.
func (Postgres) RowLock() string { return " FOR UPDATE" }

// topicLockKey maps a topic to the advisory lock key space.
func topicLockKey(topic string) int64 {
	return int64(xxhash.Sum64String("event_queue:" + topic))
}

// SQLite relies on the database write lock: a reader's transaction must be
// opened with BEGIN IMMEDIATE (see OpenSQLite), so readers run one at a
// time and writers wait until the pending read commits or aborts.
type SQLite struct{}

// Name implements Dialect.
func (SQLite) Name() string { return "sqlite" }

// Schema implements Dialect.
func (SQLite) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS event_queue (
			"offset" INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_queue_topic ON event_queue (topic, "offset")`,
		`CREATE TABLE IF NOT EXISTS event_history (
			"offset" INTEGER PRIMARY KEY,
			topic TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data BLOB NOT NULL,
			archived_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`,
	}
}

// Rebind implements Dialect.
func (SQLite) Rebind(query string) string { return query }

// LockTopic implements Dialect.
func (SQLite) LockTopic(ctx context.Context, tx *sql.Tx) (string, bool, error) {
	var topic string
	err := tx.QueryRowContext(ctx, `SELECT topic FROM event_queue ORDER BY "offset" LIMIT 1`).Scan(&topic)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("oldest topic: %w", err)
	}
	return topic, true, nil
}

// RowLock implements Dialect.
func (SQLite) RowLock() string { return "" }
