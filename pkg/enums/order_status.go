package enums

import "fmt"

// OrderStatus tracks the lifecycle of a retailer order.
type OrderStatus string

const (
	OrderStatusCreated            OrderStatus = "created"
	OrderStatusCreditApproved     OrderStatus = "credit_approved"
	OrderStatusStockReserved      OrderStatus = "stock_reserved"
	OrderStatusWholesalerAccepted OrderStatus = "wholesaler_accepted"
	OrderStatusOutForDelivery     OrderStatus = "out_for_delivery"
	OrderStatusDelivered          OrderStatus = "delivered"
	OrderStatusFailed             OrderStatus = "failed"
	OrderStatusCancelled          OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusCreditApproved,
	OrderStatusStockReserved,
	OrderStatusWholesalerAccepted,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusFailed,
	OrderStatusCancelled,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order is frozen in this status.
// FAILED is not terminal: it may still move to CANCELLED.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
