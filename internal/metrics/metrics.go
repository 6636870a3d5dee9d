// Package metrics defines the Prometheus collectors exported by the API
// server, the janitor and workers on their /metrics endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfsq_jobs_submitted_total",
		Help: "Jobs accepted by submit, including resubmissions of existing tuples.",
	})

	LeasesGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfsq_leases_granted_total",
		Help: "Leases handed out by pull.",
	})

	PullsEmptyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfsq_pulls_empty_total",
		Help: "Pull requests that found no eligible job.",
	})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfsq_jobs_completed_total",
		Help: "Jobs reported complete.",
	})

	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfsq_jobs_failed_total",
		Help: "Failure reports, labeled by whether the job became terminal.",
	}, []string{"terminal"})

	LeasesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cfsq_leases_reclaimed_total",
		Help: "Expired leases reclaimed by the janitor.",
	})

	JobsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cfsq_jobs_by_state",
		Help: "Jobs per state as of the last janitor sweep.",
	}, []string{"state"})

	ComputeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cfsq_compute_duration_seconds",
		Help:    "Wall time of one CFS computation on a worker slot.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
	})

	WorkerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cfsq_worker_jobs_total",
		Help: "Jobs processed by this worker, by outcome.",
	}, []string{"outcome"}) // done, failed, abandoned
)
