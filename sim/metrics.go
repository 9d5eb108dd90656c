package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the session's Prometheus collectors.
type Metrics struct {
	rangesAllocated       *prometheus.CounterVec
	instancesAllocated    *prometheus.CounterVec
	materializations      *prometheus.CounterVec
	instancesMaterialized *prometheus.CounterVec
	buildFailures         prometheus.Counter
	buildSeconds          prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and one-shot CLI runs use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rangesAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitsim",
			Name:      "ranges_allocated_total",
			Help:      "Virtual id ranges handed out, by model.",
		}, []string{"model"}),
		instancesAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitsim",
			Name:      "instances_allocated_total",
			Help:      "Virtual instances handed out, by model.",
		}, []string{"model"}),
		materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitsim",
			Name:      "materializations_total",
			Help:      "Collections created in the engine, by model.",
		}, []string{"model"}),
		instancesMaterialized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitsim",
			Name:      "instances_materialized_total",
			Help:      "Instances created in the engine, by model.",
		}, []string{"model"}),
		buildFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jitsim",
			Name:      "build_failures_total",
			Help:      "Background model builds that failed.",
		}),
		buildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jitsim",
			Name:      "build_duration_seconds",
			Help:      "Wall time of successful compile-build-install jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.rangesAllocated,
			m.instancesAllocated,
			m.materializations,
			m.instancesMaterialized,
			m.buildFailures,
			m.buildSeconds,
		)
	}
	return m
}

func (m *Metrics) observeAllocation(model string, n int64) {
	m.rangesAllocated.WithLabelValues(model).Inc()
	m.instancesAllocated.WithLabelValues(model).Add(float64(n))
}

func (m *Metrics) observeMaterialization(model string, n int64) {
	m.materializations.WithLabelValues(model).Inc()
	m.instancesMaterialized.WithLabelValues(model).Add(float64(n))
}
