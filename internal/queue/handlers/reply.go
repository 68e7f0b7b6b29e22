package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

// ReplyPublisher sends one outbound message to the gateway.
type ReplyPublisher interface {
	PublishReply(ctx context.Context, data []byte, attrs map[string]string) error
}

// ReplyHandler drains the reply queue to the gateway's outbound topic.
type ReplyHandler struct {
	publisher ReplyPublisher
	logg      *logger.Logger
}

// NewReplyHandler wires the reply queue handler.
func NewReplyHandler(publisher ReplyPublisher, logg *logger.Logger) (*ReplyHandler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("reply publisher required")
	}
	return &ReplyHandler{publisher: publisher, logg: logg}, nil
}

func (h *ReplyHandler) Queue() enums.QueueName {
	return enums.QueueReply
}

func (h *ReplyHandler) Handle(ctx context.Context, job *models.Job) error {
	var payload queue.ReplyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unmarshalling reply payload")
	}
	if payload.Recipient == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reply has no recipient")
	}

	attrs := map[string]string{"recipient": payload.Recipient}
	if payload.OrderID != nil {
		attrs["order_id"] = payload.OrderID.String()
	}
	for k, v := range payload.Meta {
		attrs[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshalling reply")
	}

	if err := h.publisher.PublishReply(ctx, data, attrs); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publishing reply")
	}

	if h.logg != nil {
		h.logg.Info(ctx, fmt.Sprintf("reply delivered to %s", payload.Recipient))
	}
	return nil
}
