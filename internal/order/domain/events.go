package domain

// Event type names as carried in the event_type Kafka header.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCancelled = "OrderCancelled"
)

type OrderCreated struct {
	OrderID  string         `json:"order_id"`
	Customer string         `json:"customer"`
	Items    map[string]int `json:"items"`
}

type OrderConfirmed struct {
	OrderID string `json:"order_id"`
}

type OrderCancelled struct {
	OrderID string `json:"order_id"`
}
