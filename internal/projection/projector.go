package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	orderdom "github.com/orderflow/fulfillment/internal/order/domain"
	productdom "github.com/orderflow/fulfillment/internal/product/domain"
)

// Store persists the denormalized read model.
type Store interface {
	UpsertOrder(ctx context.Context, orderID, customer, status string, itemCount int) error
	SetOrderStatus(ctx context.Context, orderID, status string) error
	UpsertReservation(ctx context.Context, orderID, productID, state string, amount int) error
}

// Projector folds domain events into the read model. It is idempotent:
// replaying an event produces the same rows.
type Projector struct {
	log   *slog.Logger
	store Store
}

func NewProjector(log *slog.Logger, store Store) *Projector {
	return &Projector{log: log, store: store}
}

func (p *Projector) Handle(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case orderdom.EventOrderCreated:
		var ev orderdom.OrderCreated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if err := p.store.UpsertOrder(ctx, ev.OrderID, ev.Customer, string(orderdom.StatusPending), len(ev.Items)); err != nil {
			return err
		}
		for productID, amount := range ev.Items {
			if err := p.store.UpsertReservation(ctx, ev.OrderID, productID, "pending", amount); err != nil {
				return err
			}
		}
		return nil

	case orderdom.EventOrderConfirmed:
		var ev orderdom.OrderConfirmed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return p.store.SetOrderStatus(ctx, ev.OrderID, string(orderdom.StatusConfirmed))

	case orderdom.EventOrderCancelled:
		var ev orderdom.OrderCancelled
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return p.store.SetOrderStatus(ctx, ev.OrderID, string(orderdom.StatusCancelled))

	case productdom.EventProductReserved:
		var ev productdom.ProductReserved
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return p.store.UpsertReservation(ctx, ev.OrderID, ev.ProductID, "reserved", ev.Amount)

	case productdom.EventProductNotEnough:
		var ev productdom.ProductNotEnough
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return p.store.UpsertReservation(ctx, ev.OrderID, ev.ProductID, "rejected", ev.Amount)

	case productdom.EventProductReservationFailed:
		var ev productdom.ProductReservationFailed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return p.store.UpsertReservation(ctx, ev.OrderID, ev.ProductID, "failed", ev.Amount)

	case productdom.EventReservationReleased:
		var ev productdom.ReservationReleased
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return p.store.UpsertReservation(ctx, ev.OrderID, ev.ProductID, "released", ev.Amount)

	default:
		p.log.Warn("unknown event type skipped", "event_type", eventType)
		return nil
	}
}
