package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhost_uploads_total",
			Help: "Stored uploads by outcome",
		},
		[]string{"result"},
	)

	shortenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fhost_urls_shortened_total",
		Help: "Shorten requests that returned a link",
	})

	pruneRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fhost_prune_runs_total",
		Help: "Completed prune sweeps",
	})

	pruneRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fhost_prune_removed_total",
		Help: "Expired files whose bytes were removed",
	})

	vscanResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fhost_vscan_results_total",
			Help: "Virus scan outcomes",
		},
		[]string{"result"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fhost_sweep_duration_seconds",
			Help:    "Duration of maintenance sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"job"},
	)
)
