package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecoveryMetrics records reconciliation pass outcomes per check.
type RecoveryMetrics struct {
	duration *prometheus.HistogramVec
	found    *prometheus.CounterVec
	repaired *prometheus.CounterVec
	failed   *prometheus.CounterVec
}

// NewRecoveryMetrics registers the recovery metrics on the provided registerer.
func NewRecoveryMetrics(reg prometheus.Registerer) *RecoveryMetrics {
	if reg == nil {
		return &RecoveryMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recovery_run_duration_seconds",
		Help:    "Duration of recovery passes in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"check"})
	found := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_inconsistencies_found_total",
		Help: "Inconsistencies detected per recovery check.",
	}, []string{"check"})
	repaired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_repairs_total",
		Help: "Successful repairs per recovery check.",
	}, []string{"check"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recovery_repair_failures_total",
		Help: "Failed repair attempts per recovery check.",
	}, []string{"check"})
	reg.MustRegister(duration, found, repaired, failed)
	return &RecoveryMetrics{
		duration: duration,
		found:    found,
		repaired: repaired,
		failed:   failed,
	}
}

// ObserveCheck records a single check's outcome counts and duration.
func (m *RecoveryMetrics) ObserveCheck(check string, found, repaired, failed int, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	label := normalizeLabel(check)
	m.duration.WithLabelValues(label).Observe(d.Seconds())
	m.found.WithLabelValues(label).Add(float64(found))
	m.repaired.WithLabelValues(label).Add(float64(repaired))
	m.failed.WithLabelValues(label).Add(float64(failed))
}
