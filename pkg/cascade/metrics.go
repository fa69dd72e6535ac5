package cascade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes cascades. A nil *Metrics records nothing.
type Metrics struct {
	cascades            *prometheus.CounterVec
	cascadeDuration     prometheus.Histogram
	destinationOutcomes *prometheus.CounterVec
	destinationDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cascades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowrt_cascades_total",
			Help: "Deletion cascades by final state",
		}, []string{"state"}),
		cascadeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadowrt_cascade_duration_seconds",
			Help:    "End-to-end deletion cascade latency",
			Buckets: prometheus.DefBuckets,
		}),
		destinationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowrt_cascade_destination_outcomes_total",
			Help: "Per-destination deletion outcomes",
		}, []string{"destination", "outcome"}),
		destinationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadowrt_cascade_destination_duration_seconds",
			Help:    "Latency of destination delete calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"destination"}),
	}
}

func (m *Metrics) ObserveCascade(state State, seconds float64) {
	if m == nil {
		return
	}
	m.cascades.WithLabelValues(string(state)).Inc()
	m.cascadeDuration.Observe(seconds)
}

func (m *Metrics) IncDestinationOutcome(destination, outcome string) {
	if m != nil {
		m.destinationOutcomes.WithLabelValues(destination, outcome).Inc()
	}
}

func (m *Metrics) ObserveDestinationDuration(destination string, seconds float64) {
	if m != nil {
		m.destinationDuration.WithLabelValues(destination).Observe(seconds)
	}
}
