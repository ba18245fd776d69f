package application

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment/internal/order/domain"
)

type savedEvent struct {
	eventType string
	payload   []byte
	status    domain.OrderStatus
}

type fakeRepo struct {
	saved  []savedEvent
	orders map[string]domain.Order
}

func (r *fakeRepo) SaveWithOutbox(_ context.Context, o domain.Order, eventType string, payload []byte, _ map[string]string, _ string) error {
	r.saved = append(r.saved, savedEvent{eventType: eventType, payload: payload, status: o.Status})
	return nil
}

func (r *fakeRepo) UpdateStatusWithOutbox(_ context.Context, _ string, status domain.OrderStatus, eventType string, payload []byte, _ map[string]string, _ string) error {
	r.saved = append(r.saved, savedEvent{eventType: eventType, payload: payload, status: status})
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (domain.Order, error) {
	return r.orders[id], nil
}

func TestCreateOrderPublishesItemAmounts(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)

	o := domain.NewOrder("o1", "alice", []domain.OrderItem{
		{ProductID: "p1", Amount: 2},
		{ProductID: "p2", Amount: 1},
		{ProductID: "p1", Amount: 3},
	})
	require.NoError(t, svc.CreateOrder(context.Background(), o, nil, ""))
	require.Len(t, repo.saved, 1)
	assert.Equal(t, domain.EventOrderCreated, repo.saved[0].eventType)

	var ev domain.OrderCreated
	require.NoError(t, json.Unmarshal(repo.saved[0].payload, &ev))
	assert.Equal(t, map[string]int{"p1": 5, "p2": 1}, ev.Items, "amounts for the same product must be merged")
}

func TestCreateOrderRejectsEmptyOrder(t *testing.T) {
	svc := NewService(&fakeRepo{})
	o := domain.NewOrder("o1", "alice", nil)
	assert.ErrorIs(t, svc.CreateOrder(context.Background(), o, nil, ""), ErrNoItems)
}

func TestConfirmUpdatesStatusWithEvent(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)

	require.NoError(t, svc.Confirm(context.Background(), "o1", nil, ""))
	require.Len(t, repo.saved, 1)
	assert.Equal(t, domain.EventOrderConfirmed, repo.saved[0].eventType)
	assert.Equal(t, domain.StatusConfirmed, repo.saved[0].status)
}

func TestCancelUpdatesStatusWithEvent(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)

	require.NoError(t, svc.Cancel(context.Background(), "o1", nil, ""))
	require.Len(t, repo.saved, 1)
	assert.Equal(t, domain.EventOrderCancelled, repo.saved[0].eventType)
	assert.Equal(t, domain.StatusCancelled, repo.saved[0].status)
}
