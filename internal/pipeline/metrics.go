package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tableRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifestgen_table_runs_total",
			Help: "Table runs by outcome (published, empty, failed)",
		},
		[]string{"outcome"},
	)

	tableRunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manifestgen_table_run_duration_seconds",
			Help:    "Duration of one table run",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"outcome"},
	)

	batchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifestgen_batch_runs_total",
			Help: "Batch runs by terminal status",
		},
		[]string{"status"},
	)

	curatedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifestgen_curated_records_total",
			Help: "Curated records included in published manifests",
		},
	)

	combinedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifestgen_combined_bytes_total",
			Help: "Bytes of combined artifacts uploaded",
		},
	)
)
