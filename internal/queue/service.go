package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	pkgerrors "github.com/dukalink/dukalink-backend/pkg/errors"
	"github.com/dukalink/dukalink-backend/pkg/logger"
	"github.com/dukalink/dukalink-backend/pkg/metrics"
	"github.com/dukalink/dukalink-backend/pkg/retry"
	"gorm.io/gorm"
)

// Service wraps the queue repository with enqueue helpers and the
// retry-or-dead-letter decision applied after every handler run.
type Service interface {
	Enqueue(ctx context.Context, tx *gorm.DB, queue enums.QueueName, payload any, priority int) (*models.Job, error)
	Settle(ctx context.Context, job *models.Job, handleErr error) error
}

type service struct {
	repo        Repository
	policy      retry.Policy
	maxAttempts int
	metrics     *metrics.QueueMetrics
	logg        *logger.Logger
}

// NewService wires the queue service. maxAttempts caps transient retries
// before a job is dead-lettered.
func NewService(repo Repository, policy retry.Policy, maxAttempts int, qm *metrics.QueueMetrics, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("queue repository required")
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &service{
		repo:        repo,
		policy:      policy,
		maxAttempts: maxAttempts,
		metrics:     qm,
		logg:        logg,
	}, nil
}

// Enqueue serializes the payload and inserts the job. Passing the caller's
// transaction makes the enqueue atomic with the state change that caused it.
func (s *service) Enqueue(ctx context.Context, tx *gorm.DB, queue enums.QueueName, payload any, priority int) (*models.Job, error) {
	if !queue.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown queue %q", queue))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshalling job payload")
	}

	job := &models.Job{
		Queue:       queue,
		Payload:     raw,
		Priority:    priority,
		Status:      enums.JobStatusQueued,
		MaxAttempts: s.maxAttempts,
		RunAt:       time.Now().UTC(),
	}

	repo := s.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	if err := repo.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Settle finishes a leased job after its handler ran. Success acks; a
// transient error requeues with backoff until the attempt budget is spent;
// a terminal error dead-letters immediately, payload intact.
func (s *service) Settle(ctx context.Context, job *models.Job, handleErr error) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithQueue(ctx, job.Queue.String())
		logCtx = s.logg.WithJobID(logCtx, job.ID.String())
	}

	if handleErr == nil {
		if err := s.repo.Ack(ctx, job.ID); err != nil {
			return err
		}
		s.metrics.IncSucceeded(job.Queue.String())
		return nil
	}

	if !pkgerrors.IsRetryable(handleErr) {
		reason := enums.DeadLetterReasonTerminalRejection
		if coded := pkgerrors.As(handleErr); coded != nil && coded.Code() == pkgerrors.CodeValidation {
			reason = enums.DeadLetterReasonMalformedPayload
		}
		if s.logg != nil {
			s.logg.Warn(logCtx, fmt.Sprintf("job rejected terminally (%s): %v", reason, handleErr))
		}
		if err := s.repo.MoveToDeadLetter(ctx, job, reason, handleErr.Error()); err != nil {
			return err
		}
		s.metrics.IncDeadLetter(job.Queue.String())
		return nil
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	if job.AttemptCount >= maxAttempts {
		if s.logg != nil {
			s.logg.Error(logCtx, fmt.Sprintf("job exhausted %d attempts", job.AttemptCount), handleErr)
		}
		if err := s.repo.MoveToDeadLetter(ctx, job, enums.DeadLetterReasonAttemptsExhausted, handleErr.Error()); err != nil {
			return err
		}
		s.metrics.IncDeadLetter(job.Queue.String())
		return nil
	}

	runAt := time.Now().UTC().Add(s.policy.Delay(job.AttemptCount))
	if s.logg != nil {
		s.logg.Warn(logCtx, fmt.Sprintf("job attempt %d/%d failed, retrying at %s: %v",
			job.AttemptCount, maxAttempts, runAt.Format(time.RFC3339), handleErr))
	}
	if err := s.repo.Requeue(ctx, job.ID, job.AttemptCount, runAt, handleErr.Error()); err != nil {
		return err
	}
	s.metrics.IncRetried(job.Queue.String())
	return nil
}
