package application

import "context"

// OutboxRecord is an event row persisted in the same transaction as the
// stock change it reports.
type OutboxRecord struct {
	Type        string
	Payload     []byte
	Headers     map[string]string
	Traceparent string
}

type StockRepository interface {
	// ReserveWithOutbox moves amount units from available to reserved and
	// writes exactly one of the two outcome records, depending on whether
	// the stock sufficed. It reports whether the reservation was granted.
	ReserveWithOutbox(ctx context.Context, productID string, amount int, granted, shortage OutboxRecord) (bool, error)

	// ReleaseWithOutbox returns amount units from reserved to available and
	// writes the released record.
	ReleaseWithOutbox(ctx context.Context, productID string, amount int, released OutboxRecord) error

	// AppendOutbox writes an event row without touching stock.
	AppendOutbox(ctx context.Context, productID string, rec OutboxRecord) error
}
