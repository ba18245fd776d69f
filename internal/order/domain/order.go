package domain

import "time"

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID        string
	Customer  string
	Items     []OrderItem
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ProductID string
	Amount    int
}

func NewOrder(id, customer string, items []OrderItem) Order {
	now := time.Now().UTC()
	return Order{
		ID:        id,
		Customer:  customer,
		Items:     items,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ItemAmounts flattens the line items into the product->amount mapping
// published in OrderCreated.
func (o Order) ItemAmounts() map[string]int {
	m := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		m[item.ProductID] += item.Amount
	}
	return m
}
