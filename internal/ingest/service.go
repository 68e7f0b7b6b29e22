package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/internal/queue"
	"github.com/dukalink/dukalink-backend/pkg/db"
	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"gorm.io/gorm"
)

// Result reports what Enqueue did with an inbound message.
type Result struct {
	Job       *models.Job
	Duplicate bool
}

// Service is the intake boundary: each provider message id is admitted into
// the pipeline exactly once, enforced by the unique index on the dedup
// record.
type Service interface {
	Enqueue(ctx context.Context, messageID, sender string, payload json.RawMessage) (*Result, error)
}

type service struct {
	tx           db.TxRunner
	repo         Repository
	queueSvc     queue.Service
	replayWindow time.Duration
	logg         *logger.Logger
}

// NewService wires the ingest service. replayWindow bounds how long a
// provider redelivery is treated as benign rather than rejected.
func NewService(tx db.TxRunner, repo Repository, queueSvc queue.Service, replayWindow time.Duration, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ingest repository required")
	}
	if queueSvc == nil {
		return nil, fmt.Errorf("queue service required")
	}
	if replayWindow <= 0 {
		replayWindow = 2 * time.Minute
	}
	return &service{
		tx:           tx,
		repo:         repo,
		queueSvc:     queueSvc,
		replayWindow: replayWindow,
		logg:         logg,
	}, nil
}

// Enqueue admits one inbound message. The dedup insert and the ingest job
// share a transaction: either both land or neither does. A redelivery inside
// the replay window reports Duplicate without erroring; an older duplicate is
// rejected with a coded error.
func (s *service) Enqueue(ctx context.Context, messageID, sender string, payload json.RawMessage) (*Result, error) {
	if messageID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider message id is required")
	}
	if sender == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sender is required")
	}
	if len(payload) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message payload is required")
	}

	seen, err := s.repo.FindByProviderID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if seen != nil {
		return s.classifyDuplicate(ctx, seen)
	}

	var result Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, &models.InboundMessage{
			ProviderMessageID: messageID,
			Sender:            sender,
			Payload:           payload,
		}); err != nil {
			return err
		}

		job, err := s.queueSvc.Enqueue(ctx, tx, enums.QueueIngest, queue.IngestPayload{
			MessageID: messageID,
			Sender:    sender,
			Body:      payload,
		}, 0)
		if err != nil {
			return err
		}
		result.Job = job
		return nil
	})
	if err != nil {
		// A racing redelivery inserted the dedup record first; the whole
		// transaction rolled back, so classify against the surviving row.
		if db.IsUniqueViolation(err, "ux_inbound_messages_provider_id") {
			seen, findErr := s.repo.FindByProviderID(ctx, messageID)
			if findErr != nil {
				return nil, findErr
			}
			if seen != nil {
				return s.classifyDuplicate(ctx, seen)
			}
		}
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("inbound message %s accepted", messageID))
	}
	return &result, nil
}

func (s *service) classifyDuplicate(ctx context.Context, seen *models.InboundMessage) (*Result, error) {
	if time.Since(seen.FirstSeenAt) <= s.replayWindow {
		// Gateway redelivery of a message still in flight: swallow it.
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("duplicate inbound message %s within replay window", seen.ProviderMessageID))
		}
		return &Result{Duplicate: true}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeDuplicateMessage, "message was already processed").
		WithDetails(map[string]string{"provider_message_id": seen.ProviderMessageID})
}
