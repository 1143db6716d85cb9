package invoice

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// InvoiceOpsTotal counts invoice operations by type.
	InvoiceOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billflow",
			Name:      "invoice_operations_total",
			Help:      "Total invoice operations by type.",
		},
		[]string{"type"},
	)

	// InvoiceOpDuration observes operation latency by type.
	InvoiceOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "billflow",
			Name:      "invoice_operation_duration_seconds",
			Help:      "Invoice operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// StatusChangesTotal counts derived payment status changes.
	StatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billflow",
			Name:      "invoice_payment_status_changes_total",
			Help:      "Payment status changes by resulting status.",
		},
		[]string{"status"},
	)

	// SweepFailuresTotal counts invoices the overdue sweeper could not update.
	SweepFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "billflow",
			Name:      "invoice_sweep_failures_total",
			Help:      "Invoices that failed to update during an overdue sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		InvoiceOpsTotal,
		InvoiceOpDuration,
		StatusChangesTotal,
		SweepFailuresTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	InvoiceOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		InvoiceOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
