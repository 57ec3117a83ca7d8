package search

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSearchesTotal   = "searches_total"
	MetricSearchDuration  = "search_duration_seconds"
	MetricCardsMaterialized = "search_cards_materialized"
)

// Outcome labels for the searches counter.
const (
	OutcomeSuccess              = "success"
	OutcomeEmpty                = "empty"
	OutcomeInsufficientCredits  = "insufficient_credits"
	OutcomeEmbeddingUnavailable = "embedding_unavailable"
	OutcomeError                = "error"
)

// Metrics contains Prometheus metrics for search execution.
// All operations are thread-safe.
type Metrics struct {
	searchesTotal  *prometheus.CounterVec
	searchDuration prometheus.Histogram
	cards          prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		searchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSearchesTotal,
				Help: "Total number of search executions by outcome",
			},
			[]string{"outcome"},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricSearchDuration,
				Help:    "Histogram of end-to-end search duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
		),
		cards: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricCardsMaterialized,
				Help:    "Histogram of result cards materialized per search",
				Buckets: []float64{0, 1, 3, 6, 12, 24},
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.searchesTotal,
		m.searchDuration,
		m.cards,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSearches increments the searches counter for an outcome.
func (m *Metrics) IncSearches(outcome string) {
	m.searchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSearchDuration records one search duration sample.
func (m *Metrics) ObserveSearchDuration(seconds float64) {
	m.searchDuration.Observe(seconds)
}

// ObserveCards records how many cards one search materialized.
func (m *Metrics) ObserveCards(n int) {
	m.cards.Observe(float64(n))
}
