package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfdispatch",
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Records processed, by outcome (ok or failing stage).",
		},
		[]string{"outcome"},
	)

	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pdfdispatch",
			Subsystem: "pipeline",
			Name:      "batch_size",
			Help:      "Records per batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	recordDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdfdispatch",
			Subsystem: "pipeline",
			Name:      "record_duration_seconds",
			Help:      "Per-record pipeline latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// ObserveRecord counts one finished record. outcome is "ok" or the failing stage.
func ObserveRecord(outcome string, elapsed time.Duration) {
	recordsTotal.WithLabelValues(outcome).Inc()
	recordDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveBatch records the size of a batch.
func ObserveBatch(size int) {
	batchSize.Observe(float64(size))
}
