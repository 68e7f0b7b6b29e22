package orders

import "github.com/dukalink/dukalink-backend/pkg/enums"

// allowedTransitions is the fixed order lifecycle. There is deliberately no
// way to extend it at runtime; any edge not listed here is a state violation.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusCreated: {
		enums.OrderStatusCreditApproved,
		enums.OrderStatusFailed,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusCreditApproved: {
		enums.OrderStatusStockReserved,
		enums.OrderStatusFailed,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusStockReserved: {
		enums.OrderStatusWholesalerAccepted,
		enums.OrderStatusFailed,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusWholesalerAccepted: {
		enums.OrderStatusOutForDelivery,
		enums.OrderStatusFailed,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusOutForDelivery: {
		enums.OrderStatusDelivered,
		enums.OrderStatusFailed,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusFailed: {
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusDelivered: {},
	enums.OrderStatusCancelled: {},
}

// AllowedTransitions returns the targets reachable from the given status.
func AllowedTransitions(from enums.OrderStatus) []enums.OrderStatus {
	targets := allowedTransitions[from]
	out := make([]enums.OrderStatus, len(targets))
	copy(out, targets)
	return out
}

// CanTransition reports whether the edge from -> to exists in the lifecycle.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
