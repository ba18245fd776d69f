package process

import (
	"context"
	"log/slog"
	"sync"
	"time"

	orderdom "github.com/orderflow/fulfillment/internal/order/domain"
	productdom "github.com/orderflow/fulfillment/internal/product/domain"
)

type State string

const (
	StateCreated              State = "created"
	StateAwaitingReservations State = "awaiting_reservations"
	StateConfirming           State = "confirming"
	StateCompensating         State = "compensating"
	StateConfirmed            State = "confirmed"
	StateCancelled            State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

type lineItem struct {
	amount   int
	reserved bool
	resolved bool
}

// Instance coordinates fulfillment of a single order. It reserves stock for
// every line item, waits for all reservation outcomes and then either
// confirms the order or releases every reservation already granted.
//
// All mutation happens under mu: events for the same order may be delivered
// from concurrent consumer loops, and the decrement of outstanding must
// observe the zero-crossing exactly once.
type Instance struct {
	mu       sync.Mutex
	log      *slog.Logger
	dispatch CommandDispatcher

	orderID      string
	state        State
	pending      map[string]*lineItem
	compensation map[string]*lineItem
	outstanding  int
	needRollback bool
	cancelSent   bool
	createdAt    time.Time
	lastRetry    time.Time
}

func NewInstance(log *slog.Logger, dispatch CommandDispatcher, orderID string) *Instance {
	return &Instance{
		log:          log,
		dispatch:     dispatch,
		orderID:      orderID,
		state:        StateCreated,
		pending:      make(map[string]*lineItem),
		compensation: make(map[string]*lineItem),
		createdAt:    time.Now().UTC(),
	}
}

func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// OnOrderCreated populates the pending set and issues one ReserveProduct
// command per line item. A dispatch failure resolves that item as failed on
// the spot so the instance can still reach a decision.
func (in *Instance) OnOrderCreated(ctx context.Context, ev orderdom.OrderCreated) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != StateCreated {
		in.log.Warn("order created event ignored", "order_id", in.orderID, "state", in.state)
		return
	}

	for productID, amount := range ev.Items {
		in.pending[productID] = &lineItem{amount: amount}
	}
	in.outstanding = len(in.pending)
	in.state = StateAwaitingReservations

	if in.outstanding == 0 {
		in.finishLocked(ctx)
		return
	}

	for productID, item := range in.pending {
		if err := in.dispatch.ReserveProduct(ctx, in.orderID, productID, item.amount); err != nil {
			in.log.Error("reserve dispatch failed", "order_id", in.orderID, "product_id", productID, "err", err)
			in.resolveFailedLocked(ctx, productID)
		}
	}
}

func (in *Instance) OnProductReserved(ctx context.Context, ev productdom.ProductReserved) {
	in.mu.Lock()
	defer in.mu.Unlock()

	item, ok := in.guardOutcomeLocked(ev.ProductID, "product reserved")
	if !ok {
		return
	}
	item.reserved = true
	item.resolved = true
	in.outstanding--
	if in.outstanding == 0 {
		in.finishLocked(ctx)
	}
}

func (in *Instance) OnProductNotEnough(ctx context.Context, ev productdom.ProductNotEnough) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.guardOutcomeLocked(ev.ProductID, "product not enough"); !ok {
		return
	}
	in.log.Info("not enough stock", "order_id", in.orderID, "product_id", ev.ProductID)
	in.resolveFailedLocked(ctx, ev.ProductID)
}

func (in *Instance) OnProductReservationFailed(ctx context.Context, ev productdom.ProductReservationFailed) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.guardOutcomeLocked(ev.ProductID, "reservation failed"); !ok {
		return
	}
	in.log.Info("reservation failed", "order_id", in.orderID, "product_id", ev.ProductID)
	in.resolveFailedLocked(ctx, ev.ProductID)
}

// OnReservationReleased drains the compensation set. The cancel command goes
// out exactly once, when the last outstanding release is acknowledged.
func (in *Instance) OnReservationReleased(ctx context.Context, ev productdom.ReservationReleased) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != StateCompensating {
		in.log.Warn("release event out of place", "order_id", in.orderID, "product_id", ev.ProductID, "state", in.state)
		return
	}
	if _, ok := in.compensation[ev.ProductID]; !ok {
		in.log.Warn("release for unknown or already released product", "order_id", in.orderID, "product_id", ev.ProductID)
		return
	}
	delete(in.compensation, ev.ProductID)
	if len(in.compensation) == 0 {
		in.requestCancelLocked(ctx)
	}
}

func (in *Instance) OnOrderConfirmed(ctx context.Context, ev orderdom.OrderConfirmed) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state.Terminal() {
		in.log.Warn("event after terminal state", "order_id", in.orderID, "state", in.state)
		return
	}
	in.state = StateConfirmed
	in.log.Info("order confirmed", "order_id", in.orderID)
}

func (in *Instance) OnOrderCancelled(ctx context.Context, ev orderdom.OrderCancelled) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state.Terminal() {
		in.log.Warn("event after terminal state", "order_id", in.orderID, "state", in.state)
		return
	}
	in.state = StateCancelled
	in.log.Info("order cancelled", "order_id", in.orderID)
}

// ExpireIfStalled force-resolves every still-unresolved item as failed when
// the instance has been waiting for reservation outcomes since before the
// cutoff. It reports whether the instance was expired.
func (in *Instance) ExpireIfStalled(ctx context.Context, cutoff time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state != StateAwaitingReservations || in.createdAt.After(cutoff) {
		return false
	}
	in.log.Error("reservation timeout, compensating", "order_id", in.orderID, "outstanding", in.outstanding)
	for _, item := range in.pending {
		if item.resolved {
			continue
		}
		in.needRollback = true
		item.resolved = true
		in.outstanding--
	}
	if in.outstanding == 0 {
		in.finishLocked(ctx)
	}
	return true
}

// RetryFinish re-issues the commands of a decision whose terminal event
// never arrived: the confirm command in Confirming, the remaining release
// commands (or the cancel) in Compensating. At most one resend per sweep
// interval via lastRetry. It reports whether anything was re-dispatched.
func (in *Instance) RetryFinish(ctx context.Context, cutoff time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.state {
	case StateConfirming, StateCompensating:
	default:
		return false
	}
	last := in.lastRetry
	if last.IsZero() {
		last = in.createdAt
	}
	if last.After(cutoff) {
		return false
	}
	in.lastRetry = time.Now().UTC()

	if in.state == StateConfirming {
		in.log.Warn("confirm outcome overdue, resending", "order_id", in.orderID)
		if err := in.dispatch.ConfirmOrder(ctx, in.orderID); err != nil {
			in.log.Error("confirm dispatch failed", "order_id", in.orderID, "err", err)
		}
		return true
	}

	if len(in.compensation) == 0 {
		in.log.Warn("cancel outcome overdue, resending", "order_id", in.orderID)
		if err := in.dispatch.CancelOrder(ctx, in.orderID); err != nil {
			in.log.Error("cancel dispatch failed", "order_id", in.orderID, "err", err)
		}
		return true
	}
	in.log.Warn("release outcomes overdue, resending", "order_id", in.orderID, "remaining", len(in.compensation))
	for productID, item := range in.compensation {
		if err := in.dispatch.ReleaseReservation(ctx, in.orderID, productID, item.amount); err != nil {
			in.log.Error("release dispatch failed", "order_id", in.orderID, "product_id", productID, "err", err)
		}
	}
	return true
}

// guardOutcomeLocked validates a reservation-outcome event against the
// current state. Unknown products are protocol violations, already-resolved
// items are duplicate deliveries; both are logged and dropped.
func (in *Instance) guardOutcomeLocked(productID, what string) (*lineItem, bool) {
	if in.state.Terminal() {
		in.log.Warn("event after terminal state", "order_id", in.orderID, "product_id", productID, "event", what)
		return nil, false
	}
	item, ok := in.pending[productID]
	if !ok {
		in.log.Warn("event for unknown product", "order_id", in.orderID, "product_id", productID, "event", what)
		return nil, false
	}
	if item.resolved {
		in.log.Warn("duplicate outcome ignored", "order_id", in.orderID, "product_id", productID, "event", what)
		return nil, false
	}
	return item, true
}

func (in *Instance) resolveFailedLocked(ctx context.Context, productID string) {
	item := in.pending[productID]
	item.resolved = true
	in.needRollback = true
	in.outstanding--
	if in.outstanding == 0 {
		in.finishLocked(ctx)
	}
}

// finishLocked runs the finish decision. It is reached exactly once per
// instance: every decrement of outstanding is guarded against duplicates, so
// the counter crosses zero a single time.
func (in *Instance) finishLocked(ctx context.Context) {
	if !in.needRollback {
		in.state = StateConfirming
		if err := in.dispatch.ConfirmOrder(ctx, in.orderID); err != nil {
			in.log.Error("confirm dispatch failed", "order_id", in.orderID, "err", err)
		}
		return
	}

	in.state = StateCompensating
	for productID, item := range in.pending {
		if !item.reserved {
			continue
		}
		in.compensation[productID] = item
		if err := in.dispatch.ReleaseReservation(ctx, in.orderID, productID, item.amount); err != nil {
			in.log.Error("release dispatch failed", "order_id", in.orderID, "product_id", productID, "err", err)
		}
	}
	if len(in.compensation) == 0 {
		in.requestCancelLocked(ctx)
	}
}

func (in *Instance) requestCancelLocked(ctx context.Context) {
	if in.cancelSent {
		return
	}
	in.cancelSent = true
	if err := in.dispatch.CancelOrder(ctx, in.orderID); err != nil {
		in.log.Error("cancel dispatch failed", "order_id", in.orderID, "err", err)
	}
}
