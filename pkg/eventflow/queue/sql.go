package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	eferrors "github.com/randalmurphal/eventflow/pkg/eventflow/errors"
	"github.com/randalmurphal/eventflow/pkg/eventflow/formatter"
)

// DefaultPollInterval is how long Read waits between empty polls.
const DefaultPollInterval = 250 * time.Millisecond

type readState int

const (
	stateIdle readState = iota
	stateReading
	statePending
)

// SQLQueue is a durable queue in a relational database.
//
// Read locks one topic and returns its oldest entries inside an open
// transaction. CommitRead deletes the delivered entries up to the committed
// one, optionally archiving them to event_history, and commits. Entries
// that were not part of the read stay queued. A queue instance
// carries at most one pending read; a second Read before CommitRead or
// AbortRead fails with ErrReadPending.
type SQLQueue struct {
	db         *sql.DB
	dialect    Dialect
	formatters *formatter.Registry
	encoder    formatter.Formatter
	poll       time.Duration
	history    bool
	logger     *slog.Logger

	mu    sync.Mutex
	state readState
	tx    *sql.Tx
	topic string
	// read holds the offsets of the pending batch in delivery order.
	read []int64
}

// Compile-time interface check.
var _ eventflow.Queue = (*SQLQueue)(nil)

// SQLOption configures an SQLQueue.
type SQLOption func(*SQLQueue)

// WithPollInterval sets the wait between empty polls. Default: 250ms.
func WithPollInterval(d time.Duration) SQLOption {
	return func(q *SQLQueue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// WithHistory controls archiving of committed entries. Default: enabled.
func WithHistory(enabled bool) SQLOption {
	return func(q *SQLQueue) {
		q.history = enabled
	}
}

// WithContentType selects the registered formatter used by Write.
// Default: the registry's default formatter.
func WithContentType(contentType string) SQLOption {
	return func(q *SQLQueue) {
		if f, err := q.formatters.Get(contentType); err == nil {
			q.encoder = f
		}
	}
}

// WithSQLLogger sets the logger for read and commit records.
func WithSQLLogger(logger *slog.Logger) SQLOption {
	return func(q *SQLQueue) {
		q.logger = logger
	}
}

// NewSQLQueue creates a queue over db. Rows are decoded by the formatter
// registered for their content type.
func NewSQLQueue(db *sql.DB, dialect Dialect, formatters *formatter.Registry, opts ...SQLOption) (*SQLQueue, error) {
	if formatters == nil || formatters.Default() == nil {
		return nil, eferrors.Protocol(formatter.ErrNoFormatter, "new sql queue")
	}
	q := &SQLQueue{
		db:         db,
		dialect:    dialect,
		formatters: formatters,
		encoder:    formatters.Default(),
		poll:       DefaultPollInterval,
		history:    true,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// CreateSchema creates the queue and history tables if they do not exist.
func (q *SQLQueue) CreateSchema(ctx context.Context) error {
	return CreateSchema(ctx, q.db, q.dialect)
}

// CreateSchema runs the dialect's DDL against db.
func CreateSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range dialect.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s schema: %w", dialect.Name(), err)
		}
	}
	return nil
}

type txKey struct{}

// ContextWithTx makes Write insert through tx, so queued events commit or
// roll back together with the caller's own changes.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction set by ContextWithTx.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Write inserts events in order and records each assigned offset on its
// context.
func (q *SQLQueue) Write(ctx context.Context, events []*eventflow.EventContext) error {
	if len(events) == 0 {
		return nil
	}
	if tx, ok := TxFromContext(ctx); ok {
		return q.insert(ctx, tx, events)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	if err := q.insert(ctx, tx, events); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

func (q *SQLQueue) insert(ctx context.Context, tx *sql.Tx, events []*eventflow.EventContext) error {
	stmt, err := tx.PrepareContext(ctx, q.dialect.Rebind(`
		INSERT INTO event_queue (topic, content_type, data)
		VALUES (?, ?, ?)
		RETURNING "offset"
	`))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ec := range events {
		topic := ec.Descriptor().Topic()
		if len(topic) > MaxTopicLength {
			return eferrors.Permanent(fmt.Errorf("%q: %w", topic, ErrTopicTooLong), "queue write")
		}
		data, err := formatter.Marshal(q.encoder, ec)
		if err != nil {
			return eferrors.Permanent(err, "queue write")
		}

		var offset int64
		if err := stmt.QueryRowContext(ctx, topic, q.encoder.ContentType(), data).Scan(&offset); err != nil {
			return fmt.Errorf("insert %s: %w", ec.Name(), err)
		}
		ec.SetOffset(eventflow.Offset(offset))
	}
	return nil
}

// Read returns up to limit entries of one topic in offset order, polling
// until at least one is available or ctx is done.
func (q *SQLQueue) Read(ctx context.Context, limit int) ([]*eventflow.EventContext, error) {
	if limit < 1 {
		limit = 1
	}

	q.mu.Lock()
	if q.state != stateIdle {
		q.mu.Unlock()
		return nil, eferrors.Protocol(ErrReadPending, "queue read")
	}
	q.state = stateReading
	q.mu.Unlock()

	for {
		batch, err := q.tryRead(ctx, limit)
		if err != nil {
			q.reset()
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}

		timer := time.NewTimer(q.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			q.reset()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryRead opens a read transaction and keeps it open when rows are found.
func (q *SQLQueue) tryRead(ctx context.Context, limit int) ([]*eventflow.EventContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The transaction outlives this call, so it must not die with ctx.
	tx, err := q.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}

	topic, ok, err := q.dialect.LockTopic(ctx, tx)
	if err != nil || !ok {
		_ = tx.Rollback()
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, q.dialect.Rebind(`
		SELECT "offset", content_type, data FROM event_queue
		WHERE topic = ?
		ORDER BY "offset"
		LIMIT ?`+q.dialect.RowLock()), topic, limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("select %q: %w", topic, err)
	}
	batch, err := q.scan(rows)
	if err != nil || len(batch) == 0 {
		_ = tx.Rollback()
		return nil, err
	}

	read := make([]int64, len(batch))
	for i, ec := range batch {
		off, _ := ec.Offset()
		read[i] = int64(off)
	}

	q.mu.Lock()
	q.state, q.tx, q.topic, q.read = statePending, tx, topic, read
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.Debug("queue read",
			slog.String("topic", topic),
			slog.Int("count", len(batch)),
		)
	}
	return batch, nil
}

func (q *SQLQueue) scan(rows *sql.Rows) ([]*eventflow.EventContext, error) {
	defer rows.Close()

	var batch []*eventflow.EventContext
	for rows.Next() {
		var (
			offset      int64
			contentType string
			data        []byte
		)
		if err := rows.Scan(&offset, &contentType, &data); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		ec, err := q.decode(offset, contentType, data)
		if err != nil {
			return nil, err
		}
		batch = append(batch, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return batch, nil
}

func (q *SQLQueue) decode(offset int64, contentType string, data []byte) (*eventflow.EventContext, error) {
	f, err := q.formatters.Get(contentType)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", offset, err)
	}
	ec, err := formatter.Unmarshal(f, data)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", offset, err)
	}
	ec.SetOffset(eventflow.Offset(offset))
	return ec, nil
}

// CommitRead removes the delivered entries up to and including ec and ends
// the read. ec must come from the pending batch; otherwise CommitRead fails
// with ErrNotInBatch and the read stays pending. Once the offset is
// accepted the queue is idle afterwards, even if the commit fails.
func (q *SQLQueue) CommitRead(ctx context.Context, ec *eventflow.EventContext) error {
	q.mu.Lock()
	if q.state != statePending {
		q.mu.Unlock()
		return eferrors.Protocol(ErrNoPendingRead, "queue commit")
	}
	tx, topic, read := q.tx, q.topic, q.read

	offset, ok := ec.Offset()
	if !ok {
		q.mu.Unlock()
		return eferrors.Protocol(ErrMissingOffset, "queue commit")
	}
	n := slices.Index(read, int64(offset)) + 1
	if n == 0 {
		q.mu.Unlock()
		return eferrors.Protocol(fmt.Errorf("%w: offset %d", ErrNotInBatch, offset), "queue commit")
	}
	q.mu.Unlock()
	defer q.reset()

	// Bound both statements to the delivered offsets; on Postgres a lower
	// offset can become visible after the select and must stay queued.
	acked := read[:n]
	in, args := inClause(topic, acked)

	if q.history {
		if _, err := tx.ExecContext(ctx, q.dialect.Rebind(`
			INSERT INTO event_history ("offset", topic, content_type, data)
			SELECT "offset", topic, content_type, data FROM event_queue
			WHERE topic = ? AND "offset" IN (`+in+`)
		`), args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("archive %q: %w", topic, err)
		}
	}

	res, err := tx.ExecContext(ctx, q.dialect.Rebind(`
		DELETE FROM event_queue WHERE topic = ? AND "offset" IN (`+in+`)
	`), args...)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete %q: %w", topic, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit read: %w", err)
	}

	if q.logger != nil {
		removed, _ := res.RowsAffected()
		q.logger.Debug("queue read committed",
			slog.String("topic", topic),
			slog.Int64("offset", int64(offset)),
			slog.Int64("removed", removed),
		)
	}
	return nil
}

// AbortRead rolls back the pending read so its entries are read again.
// It is a no-op when no read is pending.
func (q *SQLQueue) AbortRead(context.Context) error {
	q.mu.Lock()
	tx := q.tx
	pending := q.state == statePending
	q.mu.Unlock()
	if !pending {
		return nil
	}
	defer q.reset()

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("abort read: %w", err)
	}
	return nil
}

func (q *SQLQueue) reset() {
	q.mu.Lock()
	q.state, q.tx, q.topic, q.read = stateIdle, nil, "", nil
	q.mu.Unlock()
}

// inClause returns the placeholders and arguments for topic followed by
// offsets.
func inClause(topic string, offsets []int64) (string, []any) {
	args := make([]any, 0, len(offsets)+1)
	args = append(args, topic)
	for _, off := range offsets {
		args = append(args, off)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(offsets)), ","), args
}

// History returns up to limit archived entries starting at from.
// OffsetStart reads from the oldest archived entry.
func (q *SQLQueue) History(ctx context.Context, from eventflow.Offset, limit int) ([]*eventflow.EventContext, error) {
	if from < 0 {
		from = 0
	}
	if limit < 1 {
		limit = 1
	}

	rows, err := q.db.QueryContext(ctx, q.dialect.Rebind(`
		SELECT "offset", content_type, data FROM event_history
		WHERE "offset" >= ?
		ORDER BY "offset"
		LIMIT ?
	`), int64(from), limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return q.scan(rows)
}

// Pending returns the number of entries waiting in the queue table.
func (q *SQLQueue) Pending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}
