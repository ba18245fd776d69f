package application

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/orderflow/fulfillment/internal/order/domain"
)

var ErrNoItems = errors.New("order has no items")

type Service struct {
	repo OrderRepository
}

func NewService(repo OrderRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateOrder(ctx context.Context, o domain.Order, headers map[string]string, traceparent string) error {
	if len(o.Items) == 0 {
		return ErrNoItems
	}
	event := domain.OrderCreated{
		OrderID:  o.ID,
		Customer: o.Customer,
		Items:    o.ItemAmounts(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.repo.SaveWithOutbox(ctx, o, domain.EventOrderCreated, payload, headers, traceparent)
}

func (s *Service) Confirm(ctx context.Context, orderID string, headers map[string]string, traceparent string) error {
	payload, err := json.Marshal(domain.OrderConfirmed{OrderID: orderID})
	if err != nil {
		return err
	}
	return s.repo.UpdateStatusWithOutbox(ctx, orderID, domain.StatusConfirmed, domain.EventOrderConfirmed, payload, headers, traceparent)
}

func (s *Service) Cancel(ctx context.Context, orderID string, headers map[string]string, traceparent string) error {
	payload, err := json.Marshal(domain.OrderCancelled{OrderID: orderID})
	if err != nil {
		return err
	}
	return s.repo.UpdateStatusWithOutbox(ctx, orderID, domain.StatusCancelled, domain.EventOrderCancelled, payload, headers, traceparent)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}
