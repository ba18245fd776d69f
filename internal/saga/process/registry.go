package process

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	orderdom "github.com/orderflow/fulfillment/internal/order/domain"
	productdom "github.com/orderflow/fulfillment/internal/product/domain"
)

// Registry owns the live process-manager instances, keyed by order id.
// Instances are created on the first OrderCreated for an order and evicted
// once they reach a terminal state; events for unknown orders are logged and
// dropped.
type Registry struct {
	mu       sync.Mutex
	log      *slog.Logger
	dispatch CommandDispatcher

	instances map[string]*Instance
}

func NewRegistry(log *slog.Logger, dispatch CommandDispatcher) *Registry {
	return &Registry{
		log:       log,
		dispatch:  dispatch,
		instances: make(map[string]*Instance),
	}
}

// Handle decodes an inbound event and routes it to the matching instance.
// A decode failure is returned to the caller; everything else is resolved
// here, so the consumer can always commit the message.
func (r *Registry) Handle(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case orderdom.EventOrderCreated:
		var ev orderdom.OrderCreated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		r.start(ctx, ev)

	case productdom.EventProductReserved:
		var ev productdom.ProductReserved
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if in := r.lookup(ev.OrderID, eventType); in != nil {
			in.OnProductReserved(ctx, ev)
		}

	case productdom.EventProductNotEnough:
		var ev productdom.ProductNotEnough
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if in := r.lookup(ev.OrderID, eventType); in != nil {
			in.OnProductNotEnough(ctx, ev)
		}

	case productdom.EventProductReservationFailed:
		var ev productdom.ProductReservationFailed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if in := r.lookup(ev.OrderID, eventType); in != nil {
			in.OnProductReservationFailed(ctx, ev)
		}

	case productdom.EventReservationReleased:
		var ev productdom.ReservationReleased
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if in := r.lookup(ev.OrderID, eventType); in != nil {
			in.OnReservationReleased(ctx, ev)
		}

	case orderdom.EventOrderConfirmed:
		var ev orderdom.OrderConfirmed
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if in := r.lookup(ev.OrderID, eventType); in != nil {
			in.OnOrderConfirmed(ctx, ev)
			r.evict(ev.OrderID)
		}

	case orderdom.EventOrderCancelled:
		var ev orderdom.OrderCancelled
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		if in := r.lookup(ev.OrderID, eventType); in != nil {
			in.OnOrderCancelled(ctx, ev)
			r.evict(ev.OrderID)
		}

	default:
		r.log.Warn("unknown event type skipped", "event_type", eventType)
	}
	return nil
}

// ExpireStalled force-fails reservations of every instance that has been
// awaiting outcomes since before now-maxAge, driving it through the normal
// compensation path, and resends the finish commands of instances stuck in
// Confirming or Compensating. It returns the number of expired instances.
func (r *Registry) ExpireStalled(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	r.mu.Lock()
	candidates := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		candidates = append(candidates, in)
	}
	r.mu.Unlock()

	expired := 0
	for _, in := range candidates {
		if in.ExpireIfStalled(ctx, cutoff) {
			expired++
			continue
		}
		in.RetryFinish(ctx, cutoff)
	}
	return expired
}

// Len reports the number of live instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

func (r *Registry) start(ctx context.Context, ev orderdom.OrderCreated) {
	r.mu.Lock()
	if _, exists := r.instances[ev.OrderID]; exists {
		r.mu.Unlock()
		r.log.Warn("duplicate order created event skipped", "order_id", ev.OrderID)
		return
	}
	in := NewInstance(r.log, r.dispatch, ev.OrderID)
	r.instances[ev.OrderID] = in
	r.mu.Unlock()

	// Dispatching reservations can block on the transport, so it happens
	// outside the registry lock, under the instance's own lock.
	in.OnOrderCreated(ctx, ev)
}

func (r *Registry) lookup(orderID, eventType string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[orderID]
	if !ok {
		r.log.Warn("event for unknown order skipped", "order_id", orderID, "event_type", eventType)
		return nil
	}
	return in
}

func (r *Registry) evict(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, orderID)
}
