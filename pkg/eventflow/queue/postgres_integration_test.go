//go:build integration

package queue_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	"github.com/randalmurphal/eventflow/pkg/eventflow/queue"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := queue.OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, queue.CreateSchema(ctx, db, queue.Postgres{}))
	return db
}

func TestIntegration_PostgresQueue_CommitArchives(t *testing.T) {
	db := setupPostgres(t)
	f := newFixture(t)
	ctx := context.Background()

	q, err := queue.NewSQLQueue(db, queue.Postgres{}, f.formatters, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	events := f.issued(t, 5)
	require.NoError(t, q.Write(ctx, events))

	batch, err := q.Read(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, offsets(t, events), offsets(t, batch))

	_, err = q.Read(ctx, 5)
	assert.ErrorIs(t, err, queue.ErrReadPending)

	require.NoError(t, q.CommitRead(ctx, batch[4]))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	history, err := q.History(ctx, eventflow.OffsetStart, 10)
	require.NoError(t, err)
	assert.Equal(t, offsets(t, events), offsets(t, history))
}

func TestIntegration_PostgresQueue_TopicsDrainConcurrently(t *testing.T) {
	db := setupPostgres(t)
	f := newFixture(t)
	ctx := context.Background()

	a, err := queue.NewSQLQueue(db, queue.Postgres{}, f.formatters, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	b, err := queue.NewSQLQueue(db, queue.Postgres{}, f.formatters, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, a.Write(ctx, []*eventflow.EventContext{
		f.context(t, invoiceIssued{InvoiceID: "i-1"}),
		f.context(t, invoicePaid{InvoiceID: "p-1"}),
		f.context(t, invoiceIssued{InvoiceID: "i-2"}),
	}))

	first, err := a.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "invoices", first[0].Descriptor().Topic())

	// The invoices topic is locked by a, so b gets the next topic.
	second, err := b.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "payments", second[0].Descriptor().Topic())

	require.NoError(t, b.CommitRead(ctx, second[0]))
	require.NoError(t, a.CommitRead(ctx, first[1]))
}

func TestIntegration_PostgresQueue_LockedTopicWaits(t *testing.T) {
	db := setupPostgres(t)
	f := newFixture(t)
	ctx := context.Background()

	a, err := queue.NewSQLQueue(db, queue.Postgres{}, f.formatters, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	b, err := queue.NewSQLQueue(db, queue.Postgres{}, f.formatters, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, a.Write(ctx, f.issued(t, 2)))
	batch, err := a.Read(ctx, 1)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = b.Read(waitCtx, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "one reader per topic")

	require.NoError(t, a.CommitRead(ctx, batch[0]))

	rest, err := b.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.NoError(t, b.CommitRead(ctx, rest[0]))
}

func TestIntegration_PostgresQueue_LateRowSurvivesCommit(t *testing.T) {
	db := setupPostgres(t)
	f := newFixture(t)
	ctx := context.Background()

	q, err := queue.NewSQLQueue(db, queue.Postgres{}, f.formatters, queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	// The slow writer takes the lower offset but commits last.
	slow, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	late := f.issued(t, 1)
	require.NoError(t, q.Write(queue.ContextWithTx(ctx, slow), late))

	early := f.issued(t, 1)
	require.NoError(t, q.Write(ctx, early))

	batch, err := q.Read(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, offsets(t, early), offsets(t, batch))

	require.NoError(t, slow.Commit())
	require.NoError(t, q.CommitRead(ctx, batch[0]))

	rest, err := q.Read(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, offsets(t, late), offsets(t, rest), "the late row was not deleted unseen")
	require.NoError(t, q.CommitRead(ctx, rest[0]))
}
