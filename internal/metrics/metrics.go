package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scootermap"

// WorkerMetrics are the aggregation worker collectors
type WorkerMetrics struct {
	Cycles          *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	ReportsReceived prometheus.Counter
	ReportsAccepted prometheus.Counter
	SnapshotCells   *prometheus.GaugeVec
	LastSuccess     prometheus.Gauge
}

// NewWorkerMetrics registers the worker collectors on reg.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	f := promauto.With(reg)
	return &WorkerMetrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Aggregation cycles by outcome.",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of an aggregation cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReportsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_received_total",
			Help:      "Raw vehicle reports received in batches.",
		}),
		ReportsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_accepted_total",
			Help:      "Reports kept after deduplication and bounds filtering.",
		}),
		SnapshotCells: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_cells",
			Help:      "Cells written in the last snapshot per resolution.",
		}, []string{"resolution"}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
	}
}

// ResolutionLabel formats a resolution for the resolution label.
func ResolutionLabel(resolution int) string {
	return strconv.Itoa(resolution)
}
