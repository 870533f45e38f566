package types

import (
	"context"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusReady, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// DeductsStock reports whether entering this status consumes inventory.
func (s OrderStatus) DeductsStock() bool {
	switch s {
	case OrderStatusReady, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// Order document field names as persisted.
const (
	FieldOrderStatus   = "status"
	FieldOrderItems    = "items"
	FieldStockDeducted = "stock_deducted"
	FieldDeliveredBy   = "delivered_by"
	FieldDeliveredAt   = "delivered_at"
	FieldProductRefID  = "refid"
	FieldProductStock  = "stock"
)

type OrderItem struct {
	RefID    string  `json:"refid"`
	Quantity float64 `json:"quantity"`
}

type OrderEvent struct {
	OrderID string                 `json:"orderId"`
	Status  OrderStatus            `json:"status"`
	Order   map[string]interface{} `json:"order"`
}

type OrderMachine interface {
	Transition(ctx context.Context, orderID string, status OrderStatus, device string) (map[string]interface{}, error)
}
