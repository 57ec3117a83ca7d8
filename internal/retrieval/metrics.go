package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRetrievalsTotal   = "retrieval_runs_total"
	MetricTierAdvancesTotal = "retrieval_tier_advances_total"
)

// Metrics contains Prometheus metrics for the fallback controller.
// All operations are thread-safe.
type Metrics struct {
	retrievals   *prometheus.CounterVec
	tierAdvances *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		retrievals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetrievalsTotal,
				Help: "Total number of retrieval runs by the tier they settled on",
			},
			[]string{"tier"},
		),
		tierAdvances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTierAdvancesTotal,
				Help: "Total number of tier relaxations by the tier that starved",
			},
			[]string{"tier"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.retrievals,
		m.tierAdvances,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRetrievals increments the retrieval counter for the settled tier.
func (m *Metrics) IncRetrievals(tier string) {
	m.retrievals.WithLabelValues(tier).Inc()
}

// IncTierAdvances increments the tier-advance counter for the starved tier.
func (m *Metrics) IncTierAdvances(tier string) {
	m.tierAdvances.WithLabelValues(tier).Inc()
}
