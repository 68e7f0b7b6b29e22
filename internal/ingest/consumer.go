package ingest

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
)

// Consumer bridges the gateway's Pub/Sub subscription into the intake
// service. Ack/nack policy mirrors the queue's: duplicates and terminal
// rejections ack (redelivery cannot fix them), transient failures nack for
// redelivery.
type Consumer struct {
	subscriber *pubsub.Subscriber
	svc        Service
	logg       *logger.Logger
}

// NewConsumer wires the inbound message consumer.
func NewConsumer(subscriber *pubsub.Subscriber, svc Service, logg *logger.Logger) (*Consumer, error) {
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	if svc == nil {
		return nil, fmt.Errorf("ingest service required")
	}
	return &Consumer{subscriber: subscriber, svc: svc, logg: logg}, nil
}

// Run blocks receiving messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		sender := msg.Attributes["sender"]
		messageID := msg.Attributes["provider_message_id"]
		if messageID == "" {
			messageID = msg.ID
		}

		result, err := c.svc.Enqueue(ctx, messageID, sender, msg.Data)
		if err != nil {
			if pkgerrors.IsRetryable(err) {
				if c.logg != nil {
					c.logg.Error(ctx, fmt.Sprintf("admitting message %s, will redeliver", messageID), err)
				}
				msg.Nack()
				return
			}
			if c.logg != nil {
				c.logg.Warn(ctx, fmt.Sprintf("message %s rejected: %v", messageID, err))
			}
			msg.Ack()
			return
		}

		if result.Duplicate && c.logg != nil {
			c.logg.Warn(ctx, fmt.Sprintf("message %s was a benign redelivery", messageID))
		}
		msg.Ack()
	})
}
