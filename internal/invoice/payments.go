package invoice

import (
	"context"
	"time"

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/idgen"
	"github.com/mbd888/billflow/internal/logging"
	"github.com/mbd888/billflow/internal/money"
	"github.com/mbd888/billflow/internal/notify"
	"github.com/mbd888/billflow/internal/providers"
	"github.com/mbd888/billflow/internal/traces"
	"github.com/mbd888/billflow/internal/validation"
)

// RecordPayment applies a completed payment to an invoice.
//
// The record insert, the paid amount recomputation and the status
// re-derivation commit together under the invoice lock. A repeated
// (provider, externalTxId) returns the existing record unchanged.
func (s *Service) RecordPayment(ctx context.Context, caller auth.Principal, invoiceID string, req RecordPaymentRequest) (*PaymentRecord, *Invoice, error) {
	ctx, span := traces.StartSpan(ctx, "invoice.RecordPayment",
		traces.InvoiceID(invoiceID), traces.Amount(req.Amount.String()))
	defer span.End()

	done := observeOp("record_payment")
	defer done()

	if !req.Amount.IsPositive() {
		return nil, nil, validation.NewError("amount", "must be greater than zero")
	}
	if err := validation.Struct(req); err != nil {
		return nil, nil, err
	}
	provider := req.Provider
	if provider == "" {
		provider = providers.Manual
	}
	if !provider.Valid() {
		return nil, nil, validation.NewError("provider", "unknown payment provider")
	}

	var (
		record   *PaymentRecord
		out      *Invoice
		changed  bool
		replayed bool
	)
	err := s.store.WithInvoiceLock(ctx, invoiceID, func(tx Tx) error {
		inv := tx.Invoice()
		if !caller.Owns(inv.OwnerID) && !caller.Admin {
			return ErrNotFound
		}
		if inv.PaymentStatus == PaymentCancelled {
			return ErrCancelled
		}

		currency := money.Normalize(req.Currency)
		if currency == "" {
			currency = inv.Currency
		}
		if currency != inv.Currency {
			return validation.NewError("currency", "must match the invoice currency "+inv.Currency)
		}

		if req.ExternalTxID != "" {
			existing, err := tx.FindPaymentByExternalID(ctx, provider, req.ExternalTxID)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.InvoiceID != inv.ID {
					return errExternalTxIDTaken()
				}
				record, out, replayed = existing, inv, true
				return nil
			}
		}

		now := s.now()
		paidAt := now
		if req.PaidAt != nil && !req.PaidAt.IsZero() {
			paidAt = req.PaidAt.UTC()
		}
		record = &PaymentRecord{
			ID:           idgen.WithPrefix("pay_"),
			InvoiceID:    inv.ID,
			Amount:       money.Round(req.Amount, currency),
			Currency:     currency,
			Provider:     provider,
			Status:       RecordCompleted,
			ExternalTxID: req.ExternalTxID,
			Note:         validation.SanitizeString(req.Note, 1000),
			PaidAt:       paidAt,
			CreatedAt:    now,
		}
		if err := tx.InsertPayment(ctx, record); err != nil {
			return err
		}

		var err error
		changed, err = s.recompute(ctx, tx, inv, now)
		if err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, nil, traces.Fail(span, err)
	}
	if replayed {
		logging.L(ctx).Debug("payment already recorded",
			"invoiceId", invoiceID, "paymentId", record.ID, "externalTxId", record.ExternalTxID)
		return record, out, nil
	}

	logging.L(ctx).Info("payment recorded",
		"invoiceId", invoiceID, "paymentId", record.ID, "amount", record.Amount.String(),
		"paidAmount", out.PaidAmount.String(), "status", out.PaymentStatus)

	event := notify.EventPaymentRecorded
	if changed && out.PaymentStatus == PaymentPaid {
		event = notify.EventInvoicePaid
	}
	s.notify(ctx, event, out)
	return record, out, nil
}

// DeletePayment removes a payment record and recomputes the paid amount from
// the records that remain.
func (s *Service) DeletePayment(ctx context.Context, caller auth.Principal, paymentID string) (*Invoice, error) {
	ctx, span := traces.StartSpan(ctx, "invoice.DeletePayment", traces.PaymentID(paymentID))
	defer span.End()

	done := observeOp("delete_payment")
	defer done()

	rec, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	var out *Invoice
	err = s.store.WithInvoiceLock(ctx, rec.InvoiceID, func(tx Tx) error {
		inv := tx.Invoice()
		if !caller.Owns(inv.OwnerID) && !caller.Admin {
			return ErrPaymentNotFound
		}

		current, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if current.DeletedAt != nil {
			return ErrPaymentNotFound
		}

		now := s.now()
		if err := tx.DeletePayment(ctx, paymentID, now); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, tx, inv, now); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, traces.Fail(span, err)
	}

	logging.L(ctx).Info("payment deleted",
		"invoiceId", out.ID, "paymentId", paymentID,
		"paidAmount", out.PaidAmount.String(), "status", out.PaymentStatus)
	return out, nil
}

// ListPayments returns the non-deleted payment records of an invoice.
func (s *Service) ListPayments(ctx context.Context, caller auth.Principal, invoiceID string) ([]*PaymentRecord, error) {
	if _, err := s.Get(ctx, caller, invoiceID); err != nil {
		return nil, err
	}
	all, err := s.store.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	out := make([]*PaymentRecord, 0, len(all))
	for _, p := range all {
		if p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// recompute sets PaidAmount to the sum of completed records, re-derives the
// payment status and persists the invoice. Must run inside WithInvoiceLock.
func (s *Service) recompute(ctx context.Context, tx Tx, inv *Invoice, now time.Time) (bool, error) {
	sum, err := tx.SumCompletedPayments(ctx)
	if err != nil {
		return false, err
	}
	inv.PaidAmount = sum
	changed := applyDerived(inv, now)
	inv.UpdatedAt = now
	if err := tx.Update(ctx, inv); err != nil {
		return false, err
	}
	if changed {
		StatusChangesTotal.WithLabelValues(string(inv.PaymentStatus)).Inc()
	}
	return changed, nil
}

// errExternalTxIDTaken reports a network transaction id already recorded
// against a different invoice.
func errExternalTxIDTaken() error {
	return validation.NewError("externalTxId", "already recorded against another invoice")
}
