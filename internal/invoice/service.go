package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/idgen"
	"github.com/mbd888/billflow/internal/logging"
	"github.com/mbd888/billflow/internal/money"
	"github.com/mbd888/billflow/internal/notify"
	"github.com/mbd888/billflow/internal/pagination"
	"github.com/mbd888/billflow/internal/providers"
	"github.com/mbd888/billflow/internal/traces"
	"github.com/mbd888/billflow/internal/validation"
)

// DefaultListLimit caps list endpoints when no limit is given.
const DefaultListLimit = 50

// MaxListLimit is the largest page a caller may request.
const MaxListLimit = 500

// ClientInput is the billed party as submitted by a caller.
type ClientInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email,max=254"`
	Address string `json:"address" validate:"max=1000"`
}

// LineItemInput is one billed line as submitted by a caller.
type LineItemInput struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	Rate        decimal.Decimal `json:"rate" validate:"gte=0"`
}

// InvoiceRequest carries the editable fields of an invoice for create and
// update.
type InvoiceRequest struct {
	InvoiceNumber string          `json:"invoiceNumber" validate:"max=64"`
	Currency      string          `json:"currency" validate:"required,currency"`
	Client        ClientInput     `json:"client"`
	LineItems     []LineItemInput `json:"lineItems" validate:"required,min=1,max=200,dive"`
	TaxRate       decimal.Decimal `json:"taxRate" validate:"gte=0,lte=100"`
	DiscountRate  decimal.Decimal `json:"discountRate" validate:"gte=0,lte=100"`
	Shipping      decimal.Decimal `json:"shipping" validate:"gte=0"`
	Notes         string          `json:"notes" validate:"max=10000"`
	IssueDate     time.Time       `json:"issueDate"`
	DueDate       time.Time       `json:"dueDate" validate:"required"`
}

// RecordPaymentRequest describes a payment to apply to an invoice.
type RecordPaymentRequest struct {
	Amount       decimal.Decimal    `json:"amount"`
	Currency     string             `json:"currency"`
	Provider     providers.Provider `json:"provider"`
	ExternalTxID string             `json:"externalTxId" validate:"max=128"`
	PaidAt       *time.Time         `json:"paidAt"`
	Note         string             `json:"note" validate:"max=1000"`
}

// RejectRequest carries the reason for a rejection.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Service implements invoice business logic.
type Service struct {
	store    Store
	links    LinkTrigger
	notifier notify.Notifier
	now      func() time.Time
}

// NewService creates a new invoice service.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithLinkTrigger enables default payment link generation after saves.
func (s *Service) WithLinkTrigger(t LinkTrigger) *Service {
	s.links = t
	return s
}

// WithNotifier sets the notification dispatcher.
func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the service's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// Create saves a new draft invoice with computed totals.
func (s *Service) Create(ctx context.Context, caller auth.Principal, req InvoiceRequest) (*Invoice, error) {
	done := observeOp("create")
	defer done()

	if caller.AccountID == "" {
		return nil, ErrForbidden
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	now := s.now()
	inv := &Invoice{
		ID:             idgen.WithPrefix("inv_"),
		OwnerID:        caller.AccountID,
		PaymentStatus:  PaymentPending,
		ApprovalStatus: ApprovalDraft,
		CreatedAt:      now,
	}
	fillFromRequest(inv, req, now)
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = idgen.InvoiceNumber(now)
	}
	applyTotals(inv)
	applyDerived(inv, now)

	if err := s.store.Create(ctx, inv); err != nil {
		return nil, err
	}

	logging.L(ctx).Info("invoice created",
		"invoiceId", inv.ID, "owner", inv.OwnerID, "total", inv.Total.String(), "currency", inv.Currency)

	s.triggerLink(ctx, inv)
	return inv, nil
}

// Update replaces the editable fields of a draft invoice. A payment link
// for a different total or currency is dropped.
func (s *Service) Update(ctx context.Context, caller auth.Principal, id string, req InvoiceRequest) (*Invoice, error) {
	done := observeOp("update")
	defer done()

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	var updated *Invoice
	err := s.store.WithInvoiceLock(ctx, id, func(tx Tx) error {
		inv := tx.Invoice()
		if !caller.Owns(inv.OwnerID) {
			return hideOrForbid(caller)
		}
		if inv.ApprovalStatus != ApprovalDraft {
			return ErrNotEditable
		}
		if inv.PaymentStatus == PaymentCancelled {
			return ErrCancelled
		}

		now := s.now()
		prevTotal, prevCurrency := inv.Total, inv.Currency
		prevNumber := inv.InvoiceNumber
		fillFromRequest(inv, req, now)
		if inv.InvoiceNumber == "" {
			inv.InvoiceNumber = prevNumber
		}
		applyTotals(inv)
		if !inv.Total.Equal(prevTotal) || inv.Currency != prevCurrency {
			inv.PaymentLink = ""
			inv.PaymentProvider = ""
		}
		if applyDerived(inv, now) {
			StatusChangesTotal.WithLabelValues(string(inv.PaymentStatus)).Inc()
		}
		inv.UpdatedAt = now

		if err := tx.Update(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.triggerLink(ctx, updated)
	return updated, nil
}

func fillFromRequest(inv *Invoice, req InvoiceRequest, now time.Time) {
	inv.InvoiceNumber = validation.SanitizeString(req.InvoiceNumber, 64)
	inv.Currency = money.Normalize(req.Currency)
	inv.Client = Client{
		Name:    validation.SanitizeString(req.Client.Name, 200),
		Email:   strings.ToLower(strings.TrimSpace(req.Client.Email)),
		Address: validation.SanitizeString(req.Client.Address, 1000),
	}
	inv.LineItems = make([]LineItem, len(req.LineItems))
	for i, li := range req.LineItems {
		inv.LineItems[i] = LineItem{
			Description: validation.SanitizeString(li.Description, 500),
			Quantity:    li.Quantity,
			Rate:        li.Rate,
		}
	}
	inv.TaxRate = req.TaxRate
	inv.DiscountRate = req.DiscountRate
	inv.Shipping = req.Shipping
	inv.Notes = validation.SanitizeString(req.Notes, validation.MaxStringLength)
	inv.IssueDate = req.IssueDate
	if inv.IssueDate.IsZero() {
		inv.IssueDate = now
	}
	inv.DueDate = req.DueDate
	inv.UpdatedAt = now
}

// Get returns an invoice visible to caller. Invoices owned by other
// accounts are reported as not found unless caller is an admin.
func (s *Service) Get(ctx context.Context, caller auth.Principal, id string) (*Invoice, error) {
	inv, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Owns(inv.OwnerID) && !caller.Admin {
		return nil, ErrNotFound
	}
	return inv, nil
}

// List returns one page of the caller's invoices, newest first, plus the
// cursor of the next page ("" on the last page).
func (s *Service) List(ctx context.Context, caller auth.Principal, cursor string, limit int) ([]*Invoice, string, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = DefaultListLimit
	}
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", validation.NewError("cursor", err.Error())
	}

	items, err := s.store.ListByOwner(ctx, caller.AccountID, after, limit+1)
	if err != nil {
		return nil, "", err
	}
	page, next := pagination.ComputePage(items, limit, func(inv *Invoice) pagination.Cursor {
		return pagination.Cursor{CreatedAt: inv.CreatedAt, ID: inv.ID}
	})
	return page, next, nil
}

// Cancel marks an unpaid invoice cancelled. Cancellation is terminal.
func (s *Service) Cancel(ctx context.Context, caller auth.Principal, id string) (*Invoice, error) {
	done := observeOp("cancel")
	defer done()

	var out *Invoice
	err := s.store.WithInvoiceLock(ctx, id, func(tx Tx) error {
		inv := tx.Invoice()
		if !caller.Owns(inv.OwnerID) {
			return hideOrForbid(caller)
		}
		switch inv.PaymentStatus {
		case PaymentCancelled:
			return ErrCancelled
		case PaymentPaid:
			return ErrAlreadyPaid
		}

		now := s.now()
		inv.PaymentStatus = PaymentCancelled
		inv.CancelledAt = &now
		inv.UpdatedAt = now
		if err := tx.Update(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	StatusChangesTotal.WithLabelValues(string(PaymentCancelled)).Inc()
	logging.L(ctx).Info("invoice cancelled", "invoiceId", id)
	return out, nil
}

// Transition applies an approval action under the invoice lock.
func (s *Service) Transition(ctx context.Context, caller auth.Principal, id string, action Action, reason string) (*Invoice, error) {
	ctx, span := traces.StartSpan(ctx, "invoice.Transition",
		traces.InvoiceID(id), traces.Action(string(action)))
	defer span.End()

	done := observeOp("transition_" + string(action))
	defer done()

	var out *Invoice
	err := s.store.WithInvoiceLock(ctx, id, func(tx Tx) error {
		inv := tx.Invoice()
		if !caller.Owns(inv.OwnerID) && !caller.Admin {
			return ErrNotFound
		}
		if err := applyTransition(inv, caller, action, reason, s.now()); err != nil {
			return err
		}
		if err := tx.Update(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, traces.Fail(span, err)
	}

	logging.L(ctx).Info("invoice approval transition",
		"invoiceId", id, "action", action, "status", out.ApprovalStatus, "by", caller.AccountID)

	if action == ActionMarkSent {
		s.notify(ctx, notify.EventInvoiceSent, out)
		s.triggerLink(ctx, out)
	}
	return out, nil
}

// RequestApproval moves a draft to pending_approval.
func (s *Service) RequestApproval(ctx context.Context, caller auth.Principal, id string) (*Invoice, error) {
	return s.Transition(ctx, caller, id, ActionRequestApproval, "")
}

// Approve moves a pending invoice to approved.
func (s *Service) Approve(ctx context.Context, caller auth.Principal, id string) (*Invoice, error) {
	return s.Transition(ctx, caller, id, ActionApprove, "")
}

// Reject moves a pending invoice to rejected. reason is required.
func (s *Service) Reject(ctx context.Context, caller auth.Principal, id, reason string) (*Invoice, error) {
	return s.Transition(ctx, caller, id, ActionReject, reason)
}

// MarkSent records that an approved invoice was sent to the client.
func (s *Service) MarkSent(ctx context.Context, caller auth.Principal, id string) (*Invoice, error) {
	return s.Transition(ctx, caller, id, ActionMarkSent, "")
}

// PricedLink is a payment link and the amount the network was asked to
// collect.
type PricedLink struct {
	Provider    providers.Provider
	URL         string
	Currency    string
	MinorAmount int64
}

// AttachPaymentLink stores link as the invoice's payment link unless a link
// for the same provider is already set. The write is refused with
// ErrLinkStale when the invoice no longer carries the priced amount or can
// no longer be collected. It returns the invoice as stored and whether link
// was written.
func (s *Service) AttachPaymentLink(ctx context.Context, id string, link PricedLink) (*Invoice, bool, error) {
	var (
		out     *Invoice
		written bool
	)
	err := s.store.WithInvoiceLock(ctx, id, func(tx Tx) error {
		inv := tx.Invoice()
		out = inv
		if inv.PaymentLink != "" && inv.PaymentProvider == link.Provider {
			return nil
		}
		switch {
		case inv.PaymentStatus == PaymentCancelled:
			return ErrCancelled
		case inv.PaymentStatus == PaymentPaid:
			return ErrAlreadyPaid
		case !inv.LinkEligible(),
			!strings.EqualFold(inv.Currency, link.Currency),
			money.ToMinor(inv.Total, inv.Currency) != link.MinorAmount:
			return ErrLinkStale
		}
		inv.PaymentLink = link.URL
		inv.PaymentProvider = link.Provider
		inv.UpdatedAt = s.now()
		if err := tx.Update(ctx, inv); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, written, nil
}

// RefreshStatus re-derives the payment status of one invoice at now and
// persists it when it changed.
func (s *Service) RefreshStatus(ctx context.Context, id string, now time.Time) (bool, error) {
	changed := false
	err := s.store.WithInvoiceLock(ctx, id, func(tx Tx) error {
		inv := tx.Invoice()
		if !applyDerived(inv, now) {
			return nil
		}
		inv.UpdatedAt = now
		if err := tx.Update(ctx, inv); err != nil {
			return err
		}
		changed = true
		StatusChangesTotal.WithLabelValues(string(inv.PaymentStatus)).Inc()
		return nil
	})
	return changed, err
}

func (s *Service) triggerLink(ctx context.Context, inv *Invoice) {
	if s.links == nil || inv.PaymentLink != "" || !inv.LinkEligible() {
		return
	}
	s.links.TriggerDefaultLink(ctx, inv.Clone())
}

func (s *Service) notify(ctx context.Context, event notify.Event, inv *Invoice) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, NotificationFor(event, inv))
}

// NotificationFor builds the messaging payload for inv.
func NotificationFor(event notify.Event, inv *Invoice) notify.Notification {
	return notify.Notification{
		Event:          event,
		AccountID:      inv.OwnerID,
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		PaymentLink:    inv.PaymentLink,
		FormattedTotal: money.Format(inv.Total, inv.Currency),
		DueDate:        inv.DueDate,
	}
}

// hideOrForbid reports ErrNotFound to strangers and ErrForbidden to admins
// acting on owner-only operations.
func hideOrForbid(caller auth.Principal) error {
	if caller.Admin {
		return fmt.Errorf("%w: only the invoice owner may do this", ErrForbidden)
	}
	return ErrNotFound
}

// IsConflict reports errors caused by the invoice's current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrNotEditable) ||
		errors.Is(err, ErrDuplicateNumber)
}
