package rotation

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       *prometheus.HistogramVec
	propagationTotal       *prometheus.CounterVec

	metricsOnce sync.Once
)

// Metrics records rotation instrumentation. The zero-value methods are
// safe on a nil receiver so tests can run without a registry.
type Metrics struct{}

// NewMetrics returns a Metrics recorder. Collectors are lazily registered
// on first use.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	metricsOnce.Do(func() {
		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svcrotate_rotation_started_total",
				Help: "Total number of per-account rotations started",
			},
			[]string{"mode"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svcrotate_rotation_completed_total",
				Help: "Total number of per-account rotations reaching a terminal state",
			},
			[]string{"mode", "state"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "svcrotate_rotation_duration_seconds",
				Help:    "Duration of per-account rotations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"mode"},
		)

		propagationTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "svcrotate_propagation_total",
				Help: "Total number of propagation attempts",
			},
			[]string{"status"},
		)
	})
}

// RecordStarted counts a rotation entering the state machine.
func (m *Metrics) RecordStarted(mode string) {
	if m == nil || rotationStartedTotal == nil {
		return
	}
	rotationStartedTotal.WithLabelValues(mode).Inc()
}

// RecordCompleted counts a terminal outcome and its duration.
func (m *Metrics) RecordCompleted(mode, state string, d time.Duration) {
	if m == nil || rotationCompletedTotal == nil {
		return
	}
	rotationCompletedTotal.WithLabelValues(mode, state).Inc()
	rotationDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordPropagation counts a propagation attempt by status.
func (m *Metrics) RecordPropagation(status string) {
	if m == nil || propagationTotal == nil {
		return
	}
	propagationTotal.WithLabelValues(status).Inc()
}
