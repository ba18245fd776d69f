package domain

// Command type names as carried in the command_type Kafka header.
const (
	CommandReserveProduct     = "ReserveProduct"
	CommandReleaseReservation = "ReleaseReservation"
	CommandConfirmOrder       = "ConfirmOrder"
	CommandCancelOrder        = "CancelOrder"
)

// Commands are the saga's only output. Product commands target the product
// aggregate, order commands the order aggregate.

type ReserveProduct struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Amount    int    `json:"amount"`
}

type ReleaseReservation struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Amount    int    `json:"amount"`
}

type ConfirmOrder struct {
	OrderID string `json:"order_id"`
}

type CancelOrder struct {
	OrderID string `json:"order_id"`
}
