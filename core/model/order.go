package model

import "time"

// OrderStatus is the lifecycle state of a repair request.
type OrderStatus string

const (
	OrderNew        OrderStatus = "NEW"
	OrderAssigned   OrderStatus = "ASSIGNED"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderNew, OrderAssigned, OrderInProgress, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// Order is a repair request awaiting or holding a master.
type Order struct {
	ID       string      `json:"id" yaml:"id"`
	Category string      `json:"category" yaml:"category"`
	Location *GeoPoint   `json:"location,omitempty" yaml:"location,omitempty"`
	Status   OrderStatus `json:"status" yaml:"status"`
	// MasterID is set once a master accepted the order.
	MasterID  string    `json:"master_id,omitempty" yaml:"master_id,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Requirements extracts what the scorer needs from the order.
func (o Order) Requirements() OrderRequirements {
	return OrderRequirements{Category: o.Category, Location: o.Location}
}

// OrderRequirements is the subset of an order used to rank candidates.
type OrderRequirements struct {
	Category string
	Location *GeoPoint
}
