package paylink

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/billflow/internal/providers"
)

const (
	outcomeCreated     = "created"
	outcomeReused      = "reused"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
	outcomeTransient   = "transient"
	outcomeFailed      = "failed"
)

var (
	// LinksTotal counts Generate outcomes per network.
	LinksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billflow",
			Name:      "payment_links_total",
			Help:      "Payment link requests by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// LinkDuration observes end-to-end generation latency.
	LinkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "billflow",
			Name:      "payment_link_duration_seconds",
			Help:      "Payment link generation duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// LinkAttemptsTotal counts individual network calls.
	LinkAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billflow",
			Name:      "payment_link_attempts_total",
			Help:      "Payment network calls by provider and result.",
		},
		[]string{"provider", "result"},
	)

	// LinkJobsTotal counts background generation jobs.
	LinkJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billflow",
			Name:      "payment_link_jobs_total",
			Help:      "Background payment link jobs by state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		LinksTotal,
		LinkDuration,
		LinkAttemptsTotal,
		LinkJobsTotal,
	)
}

// observeGenerate returns a function that records the outcome and latency.
func observeGenerate(provider providers.Provider) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		LinksTotal.WithLabelValues(string(provider), outcome).Inc()
		LinkDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
	}
}

func outcomeFor(err error) string {
	var pe *ProviderError
	var te *TransientError
	switch {
	case errors.Is(err, ErrUnavailable):
		return outcomeUnavailable
	case errors.Is(err, ErrNotEligible), errors.As(err, &pe):
		return outcomeRejected
	case errors.As(err, &te):
		return outcomeTransient
	default:
		return outcomeFailed
	}
}
