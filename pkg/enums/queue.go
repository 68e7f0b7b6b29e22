package enums

import "fmt"

// QueueName identifies one of the durable job queues.
type QueueName string

const (
	QueueIngest          QueueName = "ingest"
	QueueOrderProcessing QueueName = "order_processing"
	QueueVendorRouting   QueueName = "vendor_routing"
	QueueReply           QueueName = "reply"
)

var validQueueNames = []QueueName{
	QueueIngest,
	QueueOrderProcessing,
	QueueVendorRouting,
	QueueReply,
}

// AllQueues returns every queue the pipeline consumes.
func AllQueues() []QueueName {
	queues := make([]QueueName, len(validQueueNames))
	copy(queues, validQueueNames)
	return queues
}

// String implements fmt.Stringer.
func (q QueueName) String() string {
	return string(q)
}

// IsValid reports whether the value is a known QueueName.
func (q QueueName) IsValid() bool {
	for _, candidate := range validQueueNames {
		if candidate == q {
			return true
		}
	}
	return false
}

// ParseQueueName converts raw input into a QueueName.
func ParseQueueName(value string) (QueueName, error) {
	for _, candidate := range validQueueNames {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid queue name %q", value)
}

// JobStatus tracks a job's position in the queue lifecycle.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusLeased    JobStatus = "leased"
	JobStatusSucceeded JobStatus = "succeeded"
)

// IsValid reports whether the value is a known JobStatus.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusLeased, JobStatusSucceeded:
		return true
	default:
		return false
	}
}
