package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderflow/fulfillment/internal/product/application"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) ReserveWithOutbox(ctx context.Context, productID string, amount int, granted, shortage application.OutboxRecord) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// The guard in the WHERE clause keeps available from going negative; no
	// row updated means not enough stock.
	ct, err := tx.Exec(ctx, `
		UPDATE products
		SET available = available - $2, reserved = reserved + $2, updated_at = now()
		WHERE id = $1 AND available >= $2`, productID, amount)
	if err != nil {
		return false, err
	}
	reserved := ct.RowsAffected() == 1

	rec := shortage
	if reserved {
		rec = granted
	}
	if err := insertOutbox(ctx, tx, productID, rec); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return reserved, nil
}

func (r *Repository) ReleaseWithOutbox(ctx context.Context, productID string, amount int, released application.OutboxRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		UPDATE products
		SET available = available + $2, reserved = reserved - $2, updated_at = now()
		WHERE id = $1`, productID, amount)
	if err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, productID, released); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) AppendOutbox(ctx context.Context, productID string, rec application.OutboxRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ('product', $1, $2, $3, $4, $5, 'pending')`,
		productID, rec.Type, rec.Payload, rec.Headers, rec.Traceparent)
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, productID string, rec application.OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ('product', $1, $2, $3, $4, $5, 'pending')`,
		productID, rec.Type, rec.Payload, rec.Headers, rec.Traceparent)
	return err
}
