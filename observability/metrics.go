package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// accounting module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basin",
				Subsystem: "module",
				Name:      "operations_total",
				Help:      "Total module operations segmented by module, operation and outcome.",
			}, []string{"module", "op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basin",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total module operation failures segmented by module and operation.",
			}, []string{"module", "op"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basin",
				Subsystem: "module",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for module operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "op"}),
		}
		prometheus.MustRegister(
			moduleRegistry.operations,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome and latency of one module operation.
func (m *moduleMetrics) Observe(module, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(module, op).Inc()
	}
	m.operations.WithLabelValues(module, op, outcome).Inc()
	m.latency.WithLabelValues(module, op).Observe(time.Since(start).Seconds())
}
