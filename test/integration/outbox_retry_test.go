package integration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment/pkg/outbox"
)

// A failed dispatch must requeue the row so the relay retries it; only after
// the retry budget is spent may the row be parked as failed.
func TestOutboxFailedDispatchRequeues(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	pgC, pgURL, err := SetupPostgres(ctx)
	require.NoError(t, err)
	defer func() { _ = pgC.Terminate(ctx) }()

	pool, err := pgxpool.New(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, ApplySchema(ctx, pool))

	var id int64
	err = pool.QueryRow(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ('order', 'o1', 'OrderCreated', '{}', '{}', '', 'pending')
		RETURNING id`).Scan(&id)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := outbox.NewPGStore(log, pool)

	// Claim and fail the dispatch once: the row must come back as pending
	// and be claimable again.
	events, err := store.LockBatch(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NoError(t, store.MarkFailed(ctx, id, "broker unreachable"))

	var status string
	var retries int
	err = pool.QueryRow(ctx, `SELECT status, retry_count FROM outbox WHERE id=$1`, id).Scan(&status, &retries)
	require.NoError(t, err)
	assert.Equal(t, "pending", status)
	assert.Equal(t, 1, retries)

	events, err = store.LockBatch(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// Exhaust the budget.
	for i := 0; i < 20; i++ {
		require.NoError(t, store.MarkFailed(ctx, id, "broker unreachable"))
	}
	err = pool.QueryRow(ctx, `SELECT status FROM outbox WHERE id=$1`, id).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, "failed", status)

	events, err = store.LockBatch(ctx, "relay-a", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, events)
}
