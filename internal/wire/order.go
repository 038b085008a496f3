package wire

import "encoding/json"

// OrderStatus values mirror the order backend's state machine.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderUpdate is broadcast on any order mutation. Snapshots are passed
// through opaque; the transport layer never retains them.
type OrderUpdate struct {
	OrderID        string          `json:"order_id"`
	CustomerID     string          `json:"customer_id"`
	ShopID         string          `json:"shop_id"`
	PreviousStatus OrderStatus     `json:"previous_status"`
	NewStatus      OrderStatus     `json:"new_status"`
	Order          json.RawMessage `json:"order,omitempty"`
	Product        json.RawMessage `json:"product,omitempty"`
	Shop           json.RawMessage `json:"shop,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}
