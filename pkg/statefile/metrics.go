package statefile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statefile_writes_total",
			Help: "Total number of state file write attempts by status",
		},
		[]string{"status"},
	)
	conflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statefile_conflicts_total",
			Help: "Total number of version conflicts detected before writing",
		},
	)
	conflictsResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statefile_conflicts_resolved_total",
			Help: "Total number of conflicts reconciled by merge rather than last-writer-wins",
		},
	)
	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statefile_retries_total",
			Help: "Total number of update cycles repeated after an I/O failure",
		},
	)
	updateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "statefile_update_duration_seconds",
			Help:    "Duration of complete read-modify-write cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
