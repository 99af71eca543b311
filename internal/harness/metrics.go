package harness

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// attemptsTotal counts worker attempts.
	// Labels: "success", "timeout", "non_zero_exit", "invalid_payload",
	// "output_too_large", "canceled"
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apidrift_harness_attempts_total",
		Help: "Extraction worker attempts by outcome",
	}, []string{"outcome"})

	attemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apidrift_harness_attempt_duration_seconds",
		Help:    "Extraction worker attempt duration",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
	})
)

func outcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case ctx.Err() != nil:
		return "canceled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNonZeroExit):
		return "non_zero_exit"
	case errors.Is(err, ErrOutputTooLarge):
		return "output_too_large"
	default:
		return "invalid_payload"
	}
}

func recordAttempt(outcome string, d time.Duration) {
	attemptsTotal.WithLabelValues(outcome).Inc()
	attemptDuration.Observe(d.Seconds())
}
