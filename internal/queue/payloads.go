package queue

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IngestPayload carries a deduplicated inbound message into the pipeline.
type IngestPayload struct {
	MessageID string          `json:"message_id"`
	Sender    string          `json:"sender"`
	Body      json.RawMessage `json:"body"`
}

// OrderPayload drives the order-processing queue.
type OrderPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

// VendorRoutingPayload asks one wholesaler for an offer on one order.
type VendorRoutingPayload struct {
	OrderID           uuid.UUID `json:"order_id"`
	WholesalerStoreID uuid.UUID `json:"wholesaler_store_id"`
}

// ReplyPayload is an outbound message for the gateway.
type ReplyPayload struct {
	Recipient string            `json:"recipient"`
	Body      string            `json:"body"`
	OrderID   *uuid.UUID        `json:"order_id,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// OrderRequest is the conversational order body parsed off an inbound
// message.
type OrderRequest struct {
	RetailerStoreID       uuid.UUID          `json:"retailer_store_id"`
	PreferredWholesalerID uuid.UUID          `json:"preferred_wholesaler_id"`
	Items                 []OrderRequestItem `json:"items"`
}

// OrderRequestItem is one requested product line.
type OrderRequestItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
