package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukalink/dukalink-backend/internal/bidding"
	"github.com/dukalink/dukalink-backend/internal/orders"
	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

// OrderProcessingHandler advances a fresh order through credit approval and
// stock reservation, then opens the bidding round. Each step is idempotent,
// so a replayed job resumes from whatever state the order reached.
type OrderProcessingHandler struct {
	orderSvc   orders.Service
	biddingSvc bidding.Service
	queueSvc   queue.Service
	logg       *logger.Logger
}

// NewOrderProcessingHandler wires the order-processing queue handler.
func NewOrderProcessingHandler(orderSvc orders.Service, biddingSvc bidding.Service, queueSvc queue.Service, logg *logger.Logger) (*OrderProcessingHandler, error) {
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if biddingSvc == nil {
		return nil, fmt.Errorf("bidding service required")
	}
	if queueSvc == nil {
		return nil, fmt.Errorf("queue service required")
	}
	return &OrderProcessingHandler{orderSvc: orderSvc, biddingSvc: biddingSvc, queueSvc: queueSvc, logg: logg}, nil
}

func (h *OrderProcessingHandler) Queue() enums.QueueName {
	return enums.QueueOrderProcessing
}

func (h *OrderProcessingHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload queue.OrderPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unmarshalling order payload")
	}

	order, err := h.orderSvc.Get(ctx, payload.OrderID)
	if err != nil {
		return err
	}

	if order.Status == enums.OrderStatusCreated {
		order, err = h.advance(ctx, order, enums.OrderStatusCreditApproved)
		if err != nil || order == nil {
			return err
		}
	}

	if order.Status == enums.OrderStatusCreditApproved {
		order, err = h.advance(ctx, order, enums.OrderStatusStockReserved)
		if err != nil || order == nil {
			return err
		}
	}

	if order.Status == enums.OrderStatusStockReserved && order.WholesalerStoreID == nil {
		if _, err := h.biddingSvc.RouteOrder(ctx, order.ID, 0); err != nil {
			return err
		}
	}

	return nil
}

// advance runs one lifecycle transition. A terminal business rejection fails
// the order with the rejection's reason and notifies the retailer; the job
// itself then completes, because retrying cannot change a business answer.
func (h *OrderProcessingHandler) advance(ctx context.Context, order *models.Order, target enums.OrderStatus) (*models.Order, error) {
	updated, err := h.orderSvc.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		Target:  target,
	})
	if err == nil {
		return updated, nil
	}
	if pkgerrors.IsRetryable(err) {
		return nil, err
	}

	reason := err.Error()
	if coded := pkgerrors.As(err); coded != nil {
		reason = coded.Message()
	}

	if _, failErr := h.orderSvc.Transition(ctx, orders.TransitionInput{
		OrderID: order.ID,
		Target:  enums.OrderStatusFailed,
		Reason:  reason,
	}); failErr != nil {
		return nil, failErr
	}

	if _, replyErr := h.queueSvc.Enqueue(ctx, nil, enums.QueueReply, queue.ReplyPayload{
		Recipient: order.RetailerStoreID.String(),
		Body:      fmt.Sprintf("Order %s could not proceed: %s", order.ID, reason),
		OrderID:   &order.ID,
	}, 0); replyErr != nil {
		return nil, replyErr
	}

	if h.logg != nil {
		logCtx := h.logg.WithOrderID(ctx, order.ID.String())
		h.logg.Warn(logCtx, fmt.Sprintf("order failed at %s: %s", target, reason))
	}
	return nil, nil
}
