package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the indexing pipeline. A nil
// *Metrics disables instrumentation.
type Metrics struct {
	// filesTotal counts IndexFile calls, partitioned by outcome: "ok",
	// "canceled", an error kind such as "provider", or "error".
	filesTotal *prometheus.CounterVec

	// chunksTotal counts records added to indexes.
	chunksTotal prometheus.Counter

	// durationSeconds records IndexFile latency including embedding.
	durationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the pipeline metrics against reg. Use a fresh
// prometheus.NewRegistry() in tests to keep them hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		filesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragctx",
			Subsystem: "index",
			Name:      "files_total",
			Help:      "Total number of files submitted for indexing, partitioned by outcome.",
		}, []string{"outcome"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragctx",
			Subsystem: "index",
			Name:      "chunks_total",
			Help:      "Total number of chunks embedded and added to an index.",
		}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragctx",
			Subsystem: "index",
			Name:      "file_duration_seconds",
			Help:      "Wall-clock duration of indexing one file, embedding included.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observe(outcome string, seconds float64, chunks int) {
	if m == nil {
		return
	}
	m.filesTotal.WithLabelValues(outcome).Inc()
	m.durationSeconds.WithLabelValues(outcome).Observe(seconds)
	if chunks > 0 {
		m.chunksTotal.Add(float64(chunks))
	}
}
