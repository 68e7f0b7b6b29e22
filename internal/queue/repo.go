package queue

import (
	"context"
	"errors"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/db/models"
	"github.com/dukalink/dukalink-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the durable queue's persistence layer. Leasing uses
// FOR UPDATE SKIP LOCKED so concurrent workers never contend for the same
// job row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Enqueue(ctx context.Context, job *models.Job) error
	Lease(ctx context.Context, queue enums.QueueName, workerID string, ttl time.Duration) (*models.Job, error)
	Ack(ctx context.Context, jobID uuid.UUID) error
	Requeue(ctx context.Context, jobID uuid.UUID, attemptCount int, runAt time.Time, lastError string) error
	MoveToDeadLetter(ctx context.Context, job *models.Job, reason enums.DeadLetterReason, detail string) error
	ReclaimStalled(ctx context.Context, queue enums.QueueName) (int64, error)
	FindJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListDeadLetters(ctx context.Context, queue enums.QueueName, limit int) ([]models.DeadLetterJob, error)
	CountPending(ctx context.Context, queue enums.QueueName) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a queue repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Enqueue(ctx context.Context, job *models.Job) error {
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = enums.JobStatusQueued
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// Lease claims the next due job on the queue for this worker. Returns nil
// when the queue is empty.
func (r *repository) Lease(ctx context.Context, queue enums.QueueName, workerID string, ttl time.Duration) (*models.Job, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	var job models.Job
	err := r.db.WithContext(ctx).Raw(`
		UPDATE jobs
		SET status = ?, leased_by = ?, lease_expires_at = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ? AND status = ? AND run_at <= ?
			ORDER BY priority DESC, run_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		enums.JobStatusLeased, workerID, expires, now,
		queue, enums.JobStatusQueued, now,
	).Scan(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *repository) Ack(ctx context.Context, jobID uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, enums.JobStatusLeased).
		Updates(map[string]any{
			"status":           enums.JobStatusSucceeded,
			"succeeded_at":     now,
			"leased_by":        nil,
			"lease_expires_at": nil,
		}).Error
}

// Requeue schedules another attempt after backoff.
func (r *repository) Requeue(ctx context.Context, jobID uuid.UUID, attemptCount int, runAt time.Time, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":           enums.JobStatusQueued,
			"attempt_count":    attemptCount,
			"run_at":           runAt,
			"last_error":       lastError,
			"leased_by":        nil,
			"lease_expires_at": nil,
		}).Error
}

// MoveToDeadLetter copies the job, payload intact, into the dead-letter
// table and removes it from the live queue in one transaction. The unique
// job_id constraint makes a raced move land exactly once.
func (r *repository) MoveToDeadLetter(ctx context.Context, job *models.Job, reason enums.DeadLetterReason, detail string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dead := &models.DeadLetterJob{
			JobID:        job.ID,
			Queue:        job.Queue,
			Payload:      job.Payload,
			Reason:       reason,
			AttemptCount: job.AttemptCount,
		}
		if detail != "" {
			dead.FailureDetail = &detail
		}
		if err := tx.Create(dead).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Job{}, "id = ?", job.ID).Error
	})
}

// ReclaimStalled returns expired leases to the queue and counts the stall.
// The attempt consumed at lease time is credited back: a crashing worker
// burns stall_count, not the retry budget, so only handler runs that
// actually completed and failed can dead-letter a job as exhausted.
func (r *repository) ReclaimStalled(ctx context.Context, queue enums.QueueName) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Exec(`
		UPDATE jobs
		SET status = ?, leased_by = NULL, lease_expires_at = NULL,
		    attempt_count = CASE WHEN attempt_count > 0 THEN attempt_count - 1 ELSE 0 END,
		    stall_count = stall_count + 1, run_at = ?, updated_at = ?
		WHERE queue = ? AND status = ? AND lease_expires_at < ?`,
		enums.JobStatusQueued, now, now,
		queue, enums.JobStatusLeased, now)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) FindJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *repository) ListDeadLetters(ctx context.Context, queue enums.QueueName, limit int) ([]models.DeadLetterJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var dead []models.DeadLetterJob
	query := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit)
	if queue != "" {
		query = query.Where("queue = ?", queue)
	}
	if err := query.Find(&dead).Error; err != nil {
		return nil, err
	}
	return dead, nil
}

func (r *repository) CountPending(ctx context.Context, queue enums.QueueName) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("queue = ? AND status IN ?", queue, []enums.JobStatus{enums.JobStatusQueued, enums.JobStatusLeased}).
		Count(&count).Error
	return count, err
}
