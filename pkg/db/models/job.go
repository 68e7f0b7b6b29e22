package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dukalink/dukalink-backend/pkg/enums"
)

// Job is one unit of work on a durable queue. A worker owns it via a lease;
// the lease expiring makes it re-deliverable.
type Job struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Queue        enums.QueueName `gorm:"column:queue;type:queue_name;not null;index:ix_jobs_queue_run_at"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Priority     int             `gorm:"column:priority;not null;default:0"`
	Status       enums.JobStatus `gorm:"column:status;type:job_status;not null;default:'queued'"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	MaxAttempts  int             `gorm:"column:max_attempts;not null;default:5"`
	RunAt        time.Time       `gorm:"column:run_at;not null;index:ix_jobs_queue_run_at"`
	LeasedBy     *string         `gorm:"column:leased_by"`
	LeaseExpires *time.Time      `gorm:"column:lease_expires_at"`
	StallCount   int             `gorm:"column:stall_count;not null;default:0"`
	LastError    *string         `gorm:"column:last_error"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	SucceededAt  *time.Time      `gorm:"column:succeeded_at"`
}

// DeadLetterJob holds a job that exhausted its retry budget, payload intact.
type DeadLetterJob struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JobID         uuid.UUID              `gorm:"column:job_id;type:uuid;not null;uniqueIndex:ux_dead_letter_jobs_job_id"`
	Queue         enums.QueueName        `gorm:"column:queue;type:queue_name;not null"`
	Payload       json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	Reason        enums.DeadLetterReason `gorm:"column:reason;type:dead_letter_reason;not null"`
	FailureDetail *string                `gorm:"column:failure_detail"`
	AttemptCount  int                    `gorm:"column:attempt_count;not null"`
	FailedAt      time.Time              `gorm:"column:failed_at;autoCreateTime"`
}
