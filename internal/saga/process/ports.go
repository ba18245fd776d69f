package process

import "context"

// CommandDispatcher sends one-way commands to the aggregate that owns the
// target order or product. Dispatch is fire-and-forget at the transport
// level; the returned error only reports a local delivery failure, never a
// business rejection (those come back later as events).
type CommandDispatcher interface {
	ReserveProduct(ctx context.Context, orderID, productID string, amount int) error
	ReleaseReservation(ctx context.Context, orderID, productID string, amount int) error
	ConfirmOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
}
