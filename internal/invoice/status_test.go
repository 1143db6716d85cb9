package invoice

import (
	"testing"
	"time"
)

func TestDerive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name     string
		status   PaymentStatus
		currency string
		paid     string
		total    string
		due      time.Time
		want     PaymentStatus
	}{
		{"cancelled wins over paid", PaymentCancelled, "USD", "100", "100", past, PaymentCancelled},
		{"paid in full", PaymentPending, "USD", "100.00", "100.00", future, PaymentPaid},
		{"overpaid is paid", PaymentPending, "USD", "120", "100", future, PaymentPaid},
		{"paid wins over overdue", PaymentOverdue, "USD", "100", "100", past, PaymentPaid},
		{"sub-cent noise still paid", PaymentPending, "USD", "99.995", "100.00", future, PaymentPaid},
		{"one cent short", PaymentPending, "USD", "99.99", "100.00", future, PaymentPending},
		{"partially paid past due", PaymentPending, "USD", "50", "100", past, PaymentOverdue},
		{"unpaid before due", PaymentPending, "USD", "0", "100", future, PaymentPending},
		{"due exactly now is not overdue", PaymentPending, "USD", "0", "100", now, PaymentPending},
		{"zero-decimal currency", PaymentPending, "JPY", "999.6", "1000", future, PaymentPaid},
		{"overdue returns to pending when due moves", PaymentOverdue, "USD", "0", "100", future, PaymentPending},
		{"zero total stays pending", PaymentPending, "USD", "0", "0", future, PaymentPending},
		{"sub-cent total stays pending", PaymentPending, "USD", "0", "0.004", future, PaymentPending},
		{"zero total past due is overdue", PaymentPending, "USD", "0", "0", past, PaymentOverdue},
		{"zero total settled by a payment", PaymentPending, "USD", "5", "0", future, PaymentPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &Invoice{
				PaymentStatus: tt.status,
				Currency:      tt.currency,
				PaidAmount:    d(tt.paid),
				Total:         d(tt.total),
				DueDate:       tt.due,
			}
			if got := Derive(inv, now); got != tt.want {
				t.Errorf("Derive() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestApplyDerived_PaidAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	inv := &Invoice{
		PaymentStatus: PaymentPending,
		Currency:      "USD",
		PaidAmount:    d("100"),
		Total:         d("100"),
		DueDate:       now.Add(time.Hour),
	}

	if !applyDerived(inv, now) {
		t.Fatal("expected status change to paid")
	}
	if inv.PaidAt == nil || !inv.PaidAt.Equal(now) {
		t.Fatalf("PaidAt = %v, want %v", inv.PaidAt, now)
	}

	// Re-deriving while still paid keeps the original timestamp.
	later := now.Add(time.Hour)
	if applyDerived(inv, later) {
		t.Error("no change expected")
	}
	if !inv.PaidAt.Equal(now) {
		t.Errorf("PaidAt moved to %v", inv.PaidAt)
	}

	// Dropping below the total clears it.
	inv.PaidAmount = d("40")
	if !applyDerived(inv, later) {
		t.Fatal("expected status change away from paid")
	}
	if inv.PaidAt != nil {
		t.Errorf("PaidAt = %v, want nil", inv.PaidAt)
	}
}
