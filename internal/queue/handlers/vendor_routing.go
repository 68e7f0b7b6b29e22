package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

// VendorRoutingHandler delivers one bid solicitation to one wholesaler. A
// closed or decided round makes the job a no-op rather than an error.
type VendorRoutingHandler struct {
	orderSvc orders.Service
	queueSvc queue.Service
	logg     *logger.Logger
}

// NewVendorRoutingHandler wires the vendor-routing queue handler.
func NewVendorRoutingHandler(orderSvc orders.Service, queueSvc queue.Service, logg *logger.Logger) (*VendorRoutingHandler, error) {
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if queueSvc == nil {
		return nil, fmt.Errorf("queue service required")
	}
	return &VendorRoutingHandler{orderSvc: orderSvc, queueSvc: queueSvc, logg: logg}, nil
}

func (h *VendorRoutingHandler) Queue() enums.QueueName {
	return enums.QueueVendorRouting
}

func (h *VendorRoutingHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload queue.VendorRoutingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unmarshalling vendor routing payload")
	}

	order, err := h.orderSvc.Get(ctx, payload.OrderID)
	if err != nil {
		return err
	}

	if order.WholesalerStoreID != nil || order.Status != enums.OrderStatusStockReserved {
		return nil
	}
	if order.BidExpiresAt == nil || time.Now().UTC().After(*order.BidExpiresAt) {
		return nil
	}

	lines := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, fmt.Sprintf("%dx %s", item.Qty, item.ProductID))
	}
	body := fmt.Sprintf("Bid request for order %s (%s): %v. Offers close at %s.",
		order.ID, order.TotalAmount.StringFixed(2), lines, order.BidExpiresAt.Format(time.RFC3339))

	if _, err := h.queueSvc.Enqueue(ctx, nil, enums.QueueReply, queue.ReplyPayload{
		Recipient: payload.WholesalerStoreID.String(),
		Body:      body,
		OrderID:   &order.ID,
		Meta:      map[string]string{"kind": "bid_request"},
	}, 0); err != nil {
		return err
	}

	if h.logg != nil {
		logCtx := h.logg.WithOrderID(ctx, order.ID.String())
		h.logg.Info(logCtx, fmt.Sprintf("bid request sent to wholesaler %s", payload.WholesalerStoreID))
	}
	return nil
}
