package application

import (
	"context"

	"github.com/orderflow/fulfillment/internal/order/domain"
)

type OrderRepository interface {
	SaveWithOutbox(ctx context.Context, o domain.Order, eventType string, payload []byte, headers map[string]string, traceparent string) error
	UpdateStatusWithOutbox(ctx context.Context, orderID string, status domain.OrderStatus, eventType string, payload []byte, headers map[string]string, traceparent string) error
	Get(ctx context.Context, id string) (domain.Order, error)
}
