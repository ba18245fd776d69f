package process

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderdom "github.com/orderflow/fulfillment/internal/order/domain"
	productdom "github.com/orderflow/fulfillment/internal/product/domain"
	"github.com/orderflow/fulfillment/internal/saga/domain"
)

type recordedCommand struct {
	Type      string
	OrderID   string
	ProductID string
	Amount    int
}

type fakeDispatcher struct {
	mu          sync.Mutex
	commands    []recordedCommand
	failReserve map[string]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failReserve: make(map[string]error)}
}

func (d *fakeDispatcher) record(c recordedCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, c)
}

func (d *fakeDispatcher) ReserveProduct(_ context.Context, orderID, productID string, amount int) error {
	if err, ok := d.failReserve[productID]; ok {
		return err
	}
	d.record(recordedCommand{domain.CommandReserveProduct, orderID, productID, amount})
	return nil
}

func (d *fakeDispatcher) ReleaseReservation(_ context.Context, orderID, productID string, amount int) error {
	d.record(recordedCommand{domain.CommandReleaseReservation, orderID, productID, amount})
	return nil
}

func (d *fakeDispatcher) ConfirmOrder(_ context.Context, orderID string) error {
	d.record(recordedCommand{Type: domain.CommandConfirmOrder, OrderID: orderID})
	return nil
}

func (d *fakeDispatcher) CancelOrder(_ context.Context, orderID string) error {
	d.record(recordedCommand{Type: domain.CommandCancelOrder, OrderID: orderID})
	return nil
}

func (d *fakeDispatcher) ofType(t string) []recordedCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []recordedCommand
	for _, c := range d.commands {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInstance(t *testing.T, dispatch CommandDispatcher, items map[string]int) *Instance {
	t.Helper()
	in := NewInstance(testLogger(), dispatch, "order-1")
	in.OnOrderCreated(context.Background(), orderdom.OrderCreated{OrderID: "order-1", Items: items})
	return in
}

func TestAllItemsReservedConfirmsOrder(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 2, "p2": 5})

	require.Len(t, d.ofType(domain.CommandReserveProduct), 2)
	assert.Equal(t, StateAwaitingReservations, in.State())

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 2})
	assert.Empty(t, d.ofType(domain.CommandConfirmOrder))

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p2", Amount: 5})
	require.Len(t, d.ofType(domain.CommandConfirmOrder), 1)
	assert.Equal(t, StateConfirming, in.State())
	assert.Empty(t, d.ofType(domain.CommandReleaseReservation))

	in.OnOrderConfirmed(ctx, orderdom.OrderConfirmed{OrderID: "order-1"})
	assert.Equal(t, StateConfirmed, in.State())
}

func TestPartialFailureReleasesOnlyReservedItems(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 3})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	in.OnProductNotEnough(ctx, productdom.ProductNotEnough{OrderID: "order-1", ProductID: "p2"})

	releases := d.ofType(domain.CommandReleaseReservation)
	require.Len(t, releases, 1)
	assert.Equal(t, "p1", releases[0].ProductID)
	assert.Equal(t, 1, releases[0].Amount)
	assert.Equal(t, StateCompensating, in.State())
	assert.Empty(t, d.ofType(domain.CommandCancelOrder), "cancel must wait for the release outcome")

	in.OnReservationReleased(ctx, productdom.ReservationReleased{OrderID: "order-1", ProductID: "p1", Amount: 1})
	require.Len(t, d.ofType(domain.CommandCancelOrder), 1)
	assert.Empty(t, d.ofType(domain.CommandConfirmOrder))

	in.OnOrderCancelled(ctx, orderdom.OrderCancelled{OrderID: "order-1"})
	assert.Equal(t, StateCancelled, in.State())
}

func TestNothingReservedCancelsImmediately(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 4})

	in.OnProductReservationFailed(ctx, productdom.ProductReservationFailed{OrderID: "order-1", ProductID: "p1"})

	assert.Empty(t, d.ofType(domain.CommandReleaseReservation))
	require.Len(t, d.ofType(domain.CommandCancelOrder), 1)
	assert.Equal(t, StateCompensating, in.State())
}

func TestDuplicateReservedDecrementsOnce(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	assert.Empty(t, d.ofType(domain.CommandConfirmOrder), "duplicate must not cross zero")

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p2", Amount: 1})
	assert.Len(t, d.ofType(domain.CommandConfirmOrder), 1)
}

func TestDuplicateFailureOutcomeIgnored(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1})

	in.OnProductNotEnough(ctx, productdom.ProductNotEnough{OrderID: "order-1", ProductID: "p1"})
	in.OnProductNotEnough(ctx, productdom.ProductNotEnough{OrderID: "order-1", ProductID: "p1"})
	in.OnProductReservationFailed(ctx, productdom.ProductReservationFailed{OrderID: "order-1", ProductID: "p1"})
	assert.Equal(t, StateAwaitingReservations, in.State())

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p2", Amount: 1})
	assert.Len(t, d.ofType(domain.CommandReleaseReservation), 1)
}

func TestOutcomeOrderDoesNotChangeDecision(t *testing.T) {
	outcomes := map[string]func(ctx context.Context, in *Instance){
		"p1": func(ctx context.Context, in *Instance) {
			in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
		},
		"p2": func(ctx context.Context, in *Instance) {
			in.OnProductNotEnough(ctx, productdom.ProductNotEnough{OrderID: "order-1", ProductID: "p2"})
		},
		"p3": func(ctx context.Context, in *Instance) {
			in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p3", Amount: 2})
		},
	}
	permutations := [][]string{
		{"p1", "p2", "p3"},
		{"p1", "p3", "p2"},
		{"p2", "p1", "p3"},
		{"p2", "p3", "p1"},
		{"p3", "p1", "p2"},
		{"p3", "p2", "p1"},
	}

	for _, perm := range permutations {
		ctx := context.Background()
		d := newFakeDispatcher()
		in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1, "p3": 2})

		for _, productID := range perm {
			outcomes[productID](ctx, in)
		}

		releases := d.ofType(domain.CommandReleaseReservation)
		require.Len(t, releases, 2, "permutation %v", perm)
		released := map[string]bool{}
		for _, c := range releases {
			released[c.ProductID] = true
		}
		assert.True(t, released["p1"] && released["p3"], "permutation %v", perm)
		assert.Empty(t, d.ofType(domain.CommandConfirmOrder), "permutation %v", perm)

		in.OnReservationReleased(ctx, productdom.ReservationReleased{OrderID: "order-1", ProductID: "p1", Amount: 1})
		in.OnReservationReleased(ctx, productdom.ReservationReleased{OrderID: "order-1", ProductID: "p3", Amount: 2})
		assert.Len(t, d.ofType(domain.CommandCancelOrder), 1, "permutation %v", perm)
	}
}

func TestReserveDispatchFailureResolvesItem(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	d.failReserve["p2"] = assert.AnError
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1})

	// p2 never got a command out, its slot is already resolved as failed.
	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})

	releases := d.ofType(domain.CommandReleaseReservation)
	require.Len(t, releases, 1)
	assert.Equal(t, "p1", releases[0].ProductID)
	assert.Equal(t, StateCompensating, in.State())
}

func TestAllDispatchFailuresCancelWithoutCompensation(t *testing.T) {
	d := newFakeDispatcher()
	d.failReserve["p1"] = assert.AnError
	d.failReserve["p2"] = assert.AnError
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1})

	assert.Empty(t, d.ofType(domain.CommandReleaseReservation))
	assert.Len(t, d.ofType(domain.CommandCancelOrder), 1)
	assert.Equal(t, StateCompensating, in.State())
}

func TestUnknownProductOutcomeIsDiscarded(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "ghost", Amount: 1})
	assert.Equal(t, StateAwaitingReservations, in.State())
	assert.Empty(t, d.ofType(domain.CommandConfirmOrder))

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	assert.Len(t, d.ofType(domain.CommandConfirmOrder), 1)
}

func TestEventsAfterTerminalStateAreDiscarded(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	in.OnOrderConfirmed(ctx, orderdom.OrderConfirmed{OrderID: "order-1"})
	require.Equal(t, StateConfirmed, in.State())

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	in.OnOrderCancelled(ctx, orderdom.OrderCancelled{OrderID: "order-1"})

	assert.Equal(t, StateConfirmed, in.State())
	assert.Len(t, d.ofType(domain.CommandConfirmOrder), 1)
	assert.Empty(t, d.ofType(domain.CommandCancelOrder))
}

func TestEmptyOrderConfirms(t *testing.T) {
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{})

	assert.Len(t, d.ofType(domain.CommandConfirmOrder), 1)
	assert.Equal(t, StateConfirming, in.State())
}

func TestDuplicateReleaseDoesNotResendCancel(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	in.OnProductNotEnough(ctx, productdom.ProductNotEnough{OrderID: "order-1", ProductID: "p2"})

	in.OnReservationReleased(ctx, productdom.ReservationReleased{OrderID: "order-1", ProductID: "p1", Amount: 1})
	in.OnReservationReleased(ctx, productdom.ReservationReleased{OrderID: "order-1", ProductID: "p1", Amount: 1})

	assert.Len(t, d.ofType(domain.CommandCancelOrder), 1)
}

func TestExpireIfStalledForcesCompensation(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})

	// Not yet past the cutoff.
	assert.False(t, in.ExpireIfStalled(ctx, time.Now().UTC().Add(-time.Hour)))

	require.True(t, in.ExpireIfStalled(ctx, time.Now().UTC().Add(time.Second)))
	releases := d.ofType(domain.CommandReleaseReservation)
	require.Len(t, releases, 1)
	assert.Equal(t, "p1", releases[0].ProductID)
	assert.Equal(t, StateCompensating, in.State())

	// Already decided, a second sweep is a no-op.
	assert.False(t, in.ExpireIfStalled(ctx, time.Now().UTC().Add(time.Second)))
}

func TestStuckConfirmingResendsConfirm(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 1})
	require.Equal(t, StateConfirming, in.State())
	require.Len(t, d.ofType(domain.CommandConfirmOrder), 1)

	// Not yet overdue.
	assert.False(t, in.RetryFinish(ctx, time.Now().UTC().Add(-time.Hour)))
	require.Len(t, d.ofType(domain.CommandConfirmOrder), 1)

	require.True(t, in.RetryFinish(ctx, time.Now().UTC().Add(time.Second)))
	assert.Len(t, d.ofType(domain.CommandConfirmOrder), 2)

	// lastRetry throttles an immediate second resend.
	assert.False(t, in.RetryFinish(ctx, time.Now().UTC().Add(-time.Minute)))

	in.OnOrderConfirmed(ctx, orderdom.OrderConfirmed{OrderID: "order-1"})
	assert.False(t, in.RetryFinish(ctx, time.Now().UTC().Add(time.Second)), "terminal instance must not resend")
}

func TestStuckCompensationResendsReleasesThenCancel(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 2, "p2": 1})

	in.OnProductReserved(ctx, productdom.ProductReserved{OrderID: "order-1", ProductID: "p1", Amount: 2})
	in.OnProductNotEnough(ctx, productdom.ProductNotEnough{OrderID: "order-1", ProductID: "p2"})
	require.Equal(t, StateCompensating, in.State())
	require.Len(t, d.ofType(domain.CommandReleaseReservation), 1)

	require.True(t, in.RetryFinish(ctx, time.Now().UTC().Add(time.Second)))
	releases := d.ofType(domain.CommandReleaseReservation)
	require.Len(t, releases, 2)
	assert.Equal(t, "p1", releases[1].ProductID)
	assert.Equal(t, 2, releases[1].Amount)

	// Release acknowledged, cancel dispatched but its terminal event lost.
	in.OnReservationReleased(ctx, productdom.ReservationReleased{OrderID: "order-1", ProductID: "p1", Amount: 2})
	require.Len(t, d.ofType(domain.CommandCancelOrder), 1)

	require.True(t, in.RetryFinish(ctx, time.Now().UTC().Add(time.Second)))
	assert.Len(t, d.ofType(domain.CommandCancelOrder), 2)
	assert.Len(t, d.ofType(domain.CommandReleaseReservation), 2, "acknowledged releases must not be resent")
}

func TestAwaitingReservationsNotRetried(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	in := newTestInstance(t, d, map[string]int{"p1": 1, "p2": 1})

	assert.False(t, in.RetryFinish(ctx, time.Now().UTC().Add(time.Second)))
	assert.Len(t, d.ofType(domain.CommandReserveProduct), 2)
	assert.Empty(t, d.ofType(domain.CommandConfirmOrder))
	assert.Empty(t, d.ofType(domain.CommandCancelOrder))
}
