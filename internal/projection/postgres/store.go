package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) UpsertOrder(ctx context.Context, orderID, customer, status string, itemCount int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_view (order_id, customer, status, item_count, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_id) DO UPDATE
		SET customer = EXCLUDED.customer, item_count = EXCLUDED.item_count, updated_at = now()`,
		orderID, customer, status, itemCount)
	return err
}

func (s *Store) SetOrderStatus(ctx context.Context, orderID, status string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_view (order_id, customer, status, item_count, updated_at)
		VALUES ($1, '', $2, 0, now())
		ON CONFLICT (order_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = now()`,
		orderID, status)
	return err
}

func (s *Store) UpsertReservation(ctx context.Context, orderID, productID, state string, amount int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reservation_view (order_id, product_id, state, amount, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_id, product_id) DO UPDATE
		SET state = EXCLUDED.state, amount = EXCLUDED.amount, updated_at = now()`,
		orderID, productID, state, amount)
	return err
}
