package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TaskMetrics records metadata for scheduled background tasks.
type TaskMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
}

// NewTaskMetrics registers the task metrics on the provided registerer.
func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	if reg == nil {
		return &TaskMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Duration of background tasks in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_success",
		Help: "Successful background task executions.",
	}, []string{"task"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_failure",
		Help: "Failed background task executions.",
	}, []string{"task"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "task_skipped",
		Help: "Task runs skipped because a previous run was still in flight.",
	}, []string{"task"})
	reg.MustRegister(duration, success, failure, skipped)
	return &TaskMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		skipped:  skipped,
	}
}

// ObserveDuration records the duration for the named task.
func (m *TaskMetrics) ObserveDuration(task string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(task)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named task.
func (m *TaskMetrics) IncSuccess(task string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(task)).Inc()
}

// IncFailure increments the failure counter for the named task.
func (m *TaskMetrics) IncFailure(task string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(task)).Inc()
}

// IncSkipped increments the overlap-skip counter for the named task.
func (m *TaskMetrics) IncSkipped(task string) {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.WithLabelValues(normalizeLabel(task)).Inc()
}

func normalizeLabel(task string) string {
	if task == "" {
		return "unknown"
	}
	return task
}
