package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks chunked retrievals. A nil Registerer keeps the collectors
// unregistered.
type Metrics struct {
	chunks   *prometheus.CounterVec
	rows     prometheus.Counter
	shrinks  prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics creates the fetcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		chunks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "geolimes",
			Subsystem: "fetch",
			Name:      "chunks_total",
			Help:      "Number of chunk requests issued, by outcome.",
		}, []string{"outcome"}),
		rows: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "geolimes",
			Subsystem: "fetch",
			Name:      "rows_total",
			Help:      "Number of rows received from endpoints.",
		}),
		shrinks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "geolimes",
			Subsystem: "fetch",
			Name:      "chunk_size_shrinks_total",
			Help:      "Number of times a server row ceiling reduced the chunk size.",
		}),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "geolimes",
			Subsystem: "fetch",
			Name:      "retrieval_duration_seconds",
			Help:      "Time spent fetching all chunks of one query.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
	}
}
