package application

import (
	"context"
	"encoding/json"

	"github.com/orderflow/fulfillment/internal/product/domain"
)

type Service struct {
	repo StockRepository
}

func NewService(repo StockRepository) *Service {
	return &Service{repo: repo}
}

// Reserve attempts a stock reservation and always leaves an outcome event
// behind: granted, not-enough, or reservation-failed when the attempt itself
// errored, so the requesting saga can resolve the item either way.
func (s *Service) Reserve(ctx context.Context, orderID, productID string, amount int, headers map[string]string, traceparent string) error {
	granted, _ := json.Marshal(domain.ProductReserved{OrderID: orderID, ProductID: productID, Amount: amount})
	shortage, _ := json.Marshal(domain.ProductNotEnough{OrderID: orderID, ProductID: productID, Amount: amount})

	_, err := s.repo.ReserveWithOutbox(ctx, productID, amount,
		OutboxRecord{Type: domain.EventProductReserved, Payload: granted, Headers: headers, Traceparent: traceparent},
		OutboxRecord{Type: domain.EventProductNotEnough, Payload: shortage, Headers: headers, Traceparent: traceparent},
	)
	if err == nil {
		return nil
	}

	failed, _ := json.Marshal(domain.ProductReservationFailed{OrderID: orderID, ProductID: productID, Amount: amount})
	rec := OutboxRecord{Type: domain.EventProductReservationFailed, Payload: failed, Headers: headers, Traceparent: traceparent}
	if appendErr := s.repo.AppendOutbox(ctx, productID, rec); appendErr != nil {
		// Nothing durable recorded; let the transport redeliver the command.
		return err
	}
	return nil
}

func (s *Service) Release(ctx context.Context, orderID, productID string, amount int, headers map[string]string, traceparent string) error {
	released, _ := json.Marshal(domain.ReservationReleased{OrderID: orderID, ProductID: productID, Amount: amount})
	rec := OutboxRecord{Type: domain.EventReservationReleased, Payload: released, Headers: headers, Traceparent: traceparent}
	return s.repo.ReleaseWithOutbox(ctx, productID, amount, rec)
}
