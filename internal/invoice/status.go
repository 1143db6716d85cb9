package invoice

import (
	"time"

	"github.com/mbd888/billflow/internal/money"
)

// Derive computes the payment status of inv at now.
//
// Priority: cancelled, then paid (paid amount covers the total at the
// currency's minor-unit resolution), then overdue (due date strictly before
// now), else pending. An invoice with nothing to collect is not paid until
// a payment is recorded against it.
func Derive(inv *Invoice, now time.Time) PaymentStatus {
	if inv.PaymentStatus == PaymentCancelled {
		return PaymentCancelled
	}
	if settled(inv) {
		return PaymentPaid
	}
	if inv.DueDate.Before(now) {
		return PaymentOverdue
	}
	return PaymentPending
}

func settled(inv *Invoice) bool {
	if money.ToMinor(inv.Total, inv.Currency) <= 0 {
		return inv.PaidAmount.IsPositive()
	}
	return money.PaidInFull(inv.PaidAmount, inv.Total, inv.Currency)
}

// applyDerived sets the derived status and keeps PaidAt consistent with it.
// It reports whether the status changed.
func applyDerived(inv *Invoice, now time.Time) bool {
	prev := inv.PaymentStatus
	next := Derive(inv, now)
	inv.PaymentStatus = next

	switch {
	case next == PaymentPaid && inv.PaidAt == nil:
		t := now
		inv.PaidAt = &t
	case next != PaymentPaid && next != PaymentCancelled:
		inv.PaidAt = nil
	}
	return prev != next
}
