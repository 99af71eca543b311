package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished jobs.
	// Labels: "success", "failure"
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apidrift_batch_jobs_total",
		Help: "Batch jobs by outcome",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apidrift_batch_job_duration_seconds",
		Help:    "Batch job duration",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
	})
)

func recordJob(ok bool, d time.Duration) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDuration.Observe(d.Seconds())
}
