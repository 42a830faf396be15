package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tableOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minilake_table_operations_total",
			Help: "Total number of table storage operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)
	tableOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minilake_table_operation_duration_seconds",
			Help:    "Table storage operation latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)
	ingestFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minilake_ingest_files_total",
			Help: "Total number of files ingested into the session by format.",
		},
		[]string{"format", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		tableOperationsTotal,
		tableOperationDurationSeconds,
		ingestFilesTotal,
	)
}

func ObserveTableOperation(operation string, success bool, elapsed time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	tableOperationsTotal.WithLabelValues(operation, outcome).Inc()
	tableOperationDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObserveIngestFile(format string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	ingestFilesTotal.WithLabelValues(format, outcome).Inc()
}
