package invoice

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.Counter.GetValue()
}

func TestObserveOp_IncrementsCounter(t *testing.T) {
	InvoiceOpsTotal.Reset()

	done := observeOp("test_op")
	done()

	if got := counterValue(t, InvoiceOpsTotal.WithLabelValues("test_op")); got != 1.0 {
		t.Errorf("expected counter value 1, got %f", got)
	}
}

func TestObserveOp_ObservesHistogram(t *testing.T) {
	InvoiceOpDuration.Reset()

	done := observeOp("hist_test")
	done()

	ch := make(chan prometheus.Metric, 10)
	InvoiceOpDuration.Collect(ch)
	close(ch)

	found := false
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil && m.Histogram.GetSampleCount() == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected histogram with 1 sample")
	}
}

func TestStatusChangesCounted(t *testing.T) {
	f := newFixture()
	inv := f.create(t, "20")
	paid := StatusChangesTotal.WithLabelValues(string(PaymentPaid))
	before := counterValue(t, paid)

	if _, _, err := f.svc.RecordPayment(t.Context(), owner, inv.ID, RecordPaymentRequest{Amount: d("20")}); err != nil {
		t.Fatal(err)
	}
	if got := counterValue(t, paid); got != before+1 {
		t.Errorf("paid transitions = %f, want %f", got, before+1)
	}
}

func TestMetrics_Registered(t *testing.T) {
	metrics := []string{
		"billflow_invoice_operations_total",
		"billflow_invoice_operation_duration_seconds",
		"billflow_invoice_payment_status_changes_total",
		"billflow_invoice_sweep_failures_total",
	}

	InvoiceOpsTotal.WithLabelValues("registered").Inc()
	InvoiceOpDuration.WithLabelValues("registered").Observe(0)
	StatusChangesTotal.WithLabelValues("registered").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	registered := map[string]bool{}
	for _, mf := range families {
		registered[mf.GetName()] = true
	}
	for _, name := range metrics {
		if !registered[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
