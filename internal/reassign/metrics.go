package reassign

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/handoff/internal/task"
)

// Metrics exposes controller activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	attempts       *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	finished       *prometheus.CounterVec
	backoffSeconds prometheus.Counter
	checkpointSize prometheus.Gauge
}

// NewMetrics registers the controller metrics. It returns nil when
// registry is nil.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_attempts_total",
				Help: "Executor attempts by executor and outcome",
			},
			[]string{"executor", "outcome"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_escalations_total",
				Help: "Escalations to the operator by task category",
			},
			[]string{"category"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_tasks_finished_total",
				Help: "Tasks reaching a terminal status",
			},
			[]string{"status"},
		),
		backoffSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handoff_backoff_seconds_total",
			Help: "Total time spent waiting before rate-limit retries",
		}),
		checkpointSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_checkpoint_bytes",
			Help: "Serialized size of the active checkpoint",
		}),
	}

	registry.MustRegister(
		m.attempts,
		m.escalations,
		m.finished,
		m.backoffSeconds,
		m.checkpointSize,
	)
	return m
}

func (m *Metrics) observeAttempt(a task.Attempt) {
	if m != nil {
		m.attempts.WithLabelValues(a.Executor, string(a.Outcome)).Inc()
	}
}

func (m *Metrics) observeEscalation(category string) {
	if m != nil {
		m.escalations.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) observeFinished(status task.Status) {
	if m != nil {
		m.finished.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) observeBackoff(d time.Duration) {
	if m != nil {
		m.backoffSeconds.Add(d.Seconds())
	}
}

func (m *Metrics) observeCheckpoint(size int) {
	if m != nil {
		m.checkpointSize.Set(float64(size))
	}
}
