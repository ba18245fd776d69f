package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment/internal/product/application"
	productdom "github.com/orderflow/fulfillment/internal/product/domain"
	productpg "github.com/orderflow/fulfillment/internal/product/infrastructure/postgres"
	"github.com/orderflow/fulfillment/pkg/outbox"
)

// Exercises the reservation write path end to end: conditional stock update
// and outbox insert in one transaction, relay pickup, Kafka delivery.
func TestReservationOutboxFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	env, err := Setup(ctx)
	require.NoError(t, err)
	defer env.Teardown(ctx)

	pool, err := pgxpool.New(ctx, env.PGURL)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, env.ApplySchema(ctx, pool))

	_, err = pool.Exec(ctx, `INSERT INTO products (id, name, available) VALUES ('p1', 'widget', 5)`)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := productpg.NewRepository(log, pool)
	svc := application.NewService(repo)

	// Reserve within stock, then beyond it.
	require.NoError(t, svc.Reserve(ctx, "o1", "p1", 3, nil, ""))
	require.NoError(t, svc.Reserve(ctx, "o2", "p1", 4, nil, ""))

	var available, reserved int
	err = pool.QueryRow(ctx, `SELECT available, reserved FROM products WHERE id='p1'`).Scan(&available, &reserved)
	require.NoError(t, err)
	assert.Equal(t, 2, available)
	assert.Equal(t, 3, reserved)

	// Drain the outbox onto Kafka.
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(env.KAddr...),
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	store := outbox.NewPGStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, "product.events")
	relay := outbox.NewRelay(log, store, dispatch, "test-relay")

	relayCtx, stopRelay := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(relayCtx)
	}()

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: env.KAddr,
		Topic:   "product.events",
		GroupID: "test-consumer",
	})
	defer reader.Close()

	byOrder := map[string]string{}
	readCtx, cancelRead := context.WithTimeout(ctx, 60*time.Second)
	defer cancelRead()
	for len(byOrder) < 2 {
		msg, err := reader.FetchMessage(readCtx)
		require.NoError(t, err)
		eventType := ""
		for _, h := range msg.Headers {
			if h.Key == "event_type" {
				eventType = string(h.Value)
			}
		}
		var ev struct {
			OrderID string `json:"order_id"`
		}
		require.NoError(t, json.Unmarshal(msg.Value, &ev))
		byOrder[ev.OrderID] = eventType
		require.NoError(t, reader.CommitMessages(ctx, msg))
	}

	assert.Equal(t, productdom.EventProductReserved, byOrder["o1"])
	assert.Equal(t, productdom.EventProductNotEnough, byOrder["o2"])

	stopRelay()
	<-done

	var pending int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE status <> 'sent'`).Scan(&pending)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}
