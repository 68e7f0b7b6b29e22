package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics records job pipeline outcomes. Stall counts feed health
// reporting for crashed-worker detection.
type QueueMetrics struct {
	duration    *prometheus.HistogramVec
	succeeded   *prometheus.CounterVec
	retried     *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	stalls      *prometheus.CounterVec
}

// NewQueueMetrics registers the job pipeline metrics on the provided registerer.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Duration of queue job handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue"})
	succeeded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_succeeded_total",
		Help: "Jobs acknowledged after successful handling.",
	}, []string{"queue"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_retried_total",
		Help: "Jobs requeued with backoff after a transient failure.",
	}, []string{"queue"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_dead_letter_total",
		Help: "Jobs moved to the dead-letter queue.",
	}, []string{"queue"})
	stalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_stall_total",
		Help: "Expired leases reclaimed from crashed or stuck workers.",
	}, []string{"queue"})
	reg.MustRegister(duration, succeeded, retried, deadLetters, stalls)
	return &QueueMetrics{
		duration:    duration,
		succeeded:   succeeded,
		retried:     retried,
		deadLetters: deadLetters,
		stalls:      stalls,
	}
}

// ObserveDuration records how long a job took to handle.
func (m *QueueMetrics) ObserveDuration(queue string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(queue)).Observe(d.Seconds())
}

// IncSucceeded counts an acknowledged job.
func (m *QueueMetrics) IncSucceeded(queue string) {
	if m == nil || m.succeeded == nil {
		return
	}
	m.succeeded.WithLabelValues(normalizeLabel(queue)).Inc()
}

// IncRetried counts a requeued job.
func (m *QueueMetrics) IncRetried(queue string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(queue)).Inc()
}

// IncDeadLetter counts a job routed to the dead-letter queue.
func (m *QueueMetrics) IncDeadLetter(queue string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(queue)).Inc()
}

// AddStalls counts reclaimed expired leases.
func (m *QueueMetrics) AddStalls(queue string, n int) {
	if m == nil || m.stalls == nil || n <= 0 {
		return
	}
	m.stalls.WithLabelValues(normalizeLabel(queue)).Add(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
