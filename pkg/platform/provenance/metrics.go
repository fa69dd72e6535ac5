package provenance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes provenance appends. A nil *Metrics is valid and records nothing.
type Metrics struct {
	eventsAppended  *prometheus.CounterVec
	appendFailures  prometheus.Counter
	persistDuration prometheus.Histogram
}

// NewMetrics registers the log metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowrt_provenance_events_appended_total",
			Help: "Provenance events durably appended, by operation",
		}, []string{"operation"}),
		appendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "shadowrt_provenance_append_failures_total",
			Help: "Provenance appends that failed to persist",
		}),
		persistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadowrt_provenance_append_duration_seconds",
			Help:    "Latency of synchronous provenance appends",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) IncEventsAppended(op Operation) {
	if m != nil {
		m.eventsAppended.WithLabelValues(string(op)).Inc()
	}
}

func (m *Metrics) IncAppendFailures() {
	if m != nil {
		m.appendFailures.Inc()
	}
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m != nil {
		m.persistDuration.Observe(seconds)
	}
}
