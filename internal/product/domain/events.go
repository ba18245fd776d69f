package domain

// Event type names as carried in the event_type Kafka header.
const (
	EventProductReserved          = "ProductReserved"
	EventProductNotEnough         = "ProductNotEnough"
	EventProductReservationFailed = "ProductReservationFailed"
	EventReservationReleased      = "ReservationReleased"
)

type ProductReserved struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Amount    int    `json:"amount"`
}

type ProductNotEnough struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Amount    int    `json:"amount"`
}

type ProductReservationFailed struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Amount    int    `json:"amount"`
}

type ReservationReleased struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Amount    int    `json:"amount"`
}
