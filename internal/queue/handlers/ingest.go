package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"gorm.io/gorm"
)

// IngestHandler turns an admitted inbound message into an order and hands it
// to the order-processing queue. The order insert and both downstream
// enqueues commit atomically.
type IngestHandler struct {
	tx       db.TxRunner
	orderSvc orders.Service
	queueSvc queue.Service
	logg     *logger.Logger
}

// NewIngestHandler wires the ingest queue handler.
func NewIngestHandler(tx db.TxRunner, orderSvc orders.Service, queueSvc queue.Service, logg *logger.Logger) (*IngestHandler, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if queueSvc == nil {
		return nil, fmt.Errorf("queue service required")
	}
	return &IngestHandler{tx: tx, orderSvc: orderSvc, queueSvc: queueSvc, logg: logg}, nil
}

func (h *IngestHandler) Queue() enums.QueueName {
	return enums.QueueIngest
}

func (h *IngestHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload queue.IngestPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unmarshalling ingest payload")
	}

	var request queue.OrderRequest
	if err := json.Unmarshal(payload.Body, &request); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parsing order request body")
	}

	items := make([]orders.CreateItemInput, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, orders.CreateItemInput{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			UnitPrice: item.UnitPrice,
		})
	}

	return h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := h.orderSvc.CreateInTx(ctx, tx, orders.CreateInput{
			RetailerStoreID:       request.RetailerStoreID,
			PreferredWholesalerID: request.PreferredWholesalerID,
			Items:                 items,
		})
		if err != nil {
			return err
		}

		if _, err := h.queueSvc.Enqueue(ctx, tx, enums.QueueOrderProcessing, queue.OrderPayload{
			OrderID: order.ID,
		}, 0); err != nil {
			return err
		}

		if _, err := h.queueSvc.Enqueue(ctx, tx, enums.QueueReply, queue.ReplyPayload{
			Recipient: payload.Sender,
			Body:      fmt.Sprintf("Order %s received, total %s. We are checking credit and stock.", order.ID, order.TotalAmount.StringFixed(2)),
			OrderID:   &order.ID,
		}, 0); err != nil {
			return err
		}

		if h.logg != nil {
			logCtx := h.logg.WithOrderID(ctx, order.ID.String())
			h.logg.Info(logCtx, fmt.Sprintf("order created from message %s", payload.MessageID))
		}
		return nil
	})
}
