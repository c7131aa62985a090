package processor

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce   sync.Once
	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		queriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "askdocs_queries_total",
				Help: "Total processed queries, by degradation outcome",
			},
			[]string{"degraded"},
		)
		queryDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "askdocs_query_duration_seconds",
				Help:    "End-to-end query processing latency",
				Buckets: prometheus.DefBuckets,
			},
		)
	})
}

func observeQuery(degraded bool, elapsed time.Duration) {
	initMetrics()
	queriesTotal.WithLabelValues(strconv.FormatBool(degraded)).Inc()
	queryDuration.Observe(elapsed.Seconds())
}
