package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratadb_jobs_enqueued_total",
		Help: "Transformation jobs enqueued.",
	}, []string{"collection", "transformation"})

	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratadb_jobs_processed_total",
		Help: "Transformation jobs completed successfully.",
	}, []string{"collection", "transformation"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratadb_jobs_retried_total",
		Help: "Transformation job attempts that failed and were requeued.",
	}, []string{"collection", "transformation"})

	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratadb_jobs_failed_total",
		Help: "Transformation jobs that exhausted their retries.",
	}, []string{"collection", "transformation"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stratadb_job_duration_seconds",
		Help:    "Wall time spent processing one job attempt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"collection", "transformation"})
)
