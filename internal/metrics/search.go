package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Search path, index writer and history metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Total number of executed searches",
		},
		[]string{"target", "status"}, // "ok" / "invalid" / "unavailable"
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Engine search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"target"},
	)

	IndexWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_writes_total",
			Help:      "Index writer jobs by operation and outcome",
		},
		[]string{"op", "status"}, // "ok" / "failed" / "dropped"
	)

	IndexQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_queue_depth",
			Help:      "Jobs waiting in the index writer queues",
		},
	)

	HistoryWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_writes_total",
			Help:      "History appends by outcome",
		},
		[]string{"status"}, // "ok" / "failed"
	)
)

var registerOnce sync.Once

// RegisterServiceMetrics registers the service collectors. Safe to call more than once.
func RegisterServiceMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SearchRequestsTotal)
		prometheus.MustRegister(SearchDuration)
		prometheus.MustRegister(IndexWritesTotal)
		prometheus.MustRegister(IndexQueueDepth)
		prometheus.MustRegister(HistoryWritesTotal)
	})
}
