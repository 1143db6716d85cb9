// Package invoice tracks the financial lifecycle of an invoice.
//
// Two statuses evolve independently:
//
//   - ApprovalStatus follows the approval workflow
//     draft -> pending_approval -> approved -> sent, with rejection from
//     pending_approval. Only those four edges exist.
//   - PaymentStatus is derived from the invoice's payments and due date:
//     cancelled > paid > overdue > pending.
//
// PaidAmount is never adjusted incrementally. Every payment mutation
// recomputes it as the sum of completed, non-deleted payment records while
// the invoice row is locked, so concurrent payments cannot lose updates and
// deletions cannot drift.
package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/billflow/internal/pagination"
	"github.com/mbd888/billflow/internal/providers"
)

var (
	ErrNotFound          = errors.New("invoice not found")
	ErrPaymentNotFound   = errors.New("payment record not found")
	ErrForbidden         = errors.New("not authorized for this invoice operation")
	ErrInvalidTransition = errors.New("invalid approval transition")
	ErrCancelled         = errors.New("invoice is cancelled")
	ErrAlreadyPaid       = errors.New("invoice is already paid")
	ErrNotEditable       = errors.New("invoice can only be edited while in draft")
	ErrDuplicateNumber   = errors.New("invoice number already in use")
	ErrLinkStale         = errors.New("invoice changed since the payment link was priced")
)

// PaymentStatus is the derived collection state of an invoice.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentOverdue   PaymentStatus = "overdue"
	PaymentCancelled PaymentStatus = "cancelled"
)

// ApprovalStatus is the position of an invoice in the approval workflow.
type ApprovalStatus string

const (
	ApprovalDraft           ApprovalStatus = "draft"
	ApprovalPendingApproval ApprovalStatus = "pending_approval"
	ApprovalApproved        ApprovalStatus = "approved"
	ApprovalRejected        ApprovalStatus = "rejected"
	ApprovalSent            ApprovalStatus = "sent"
)

// RecordStatus is the state of a single payment record.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// Client is the billed party.
type Client struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// LineItem is one billed line. Amount is Quantity × Rate at the invoice
// currency's precision.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice is a billing document and its collection state.
type Invoice struct {
	ID              string             `json:"id"`
	OwnerID         string             `json:"ownerId"`
	InvoiceNumber   string             `json:"invoiceNumber"`
	Currency        string             `json:"currency"`
	Client          Client             `json:"client"`
	LineItems       []LineItem         `json:"lineItems"`
	Subtotal        decimal.Decimal    `json:"subtotal"`
	TaxRate         decimal.Decimal    `json:"taxRate"`
	TaxAmount       decimal.Decimal    `json:"taxAmount"`
	DiscountRate    decimal.Decimal    `json:"discountRate"`
	DiscountAmount  decimal.Decimal    `json:"discountAmount"`
	Shipping        decimal.Decimal    `json:"shipping"`
	Total           decimal.Decimal    `json:"total"`
	PaidAmount      decimal.Decimal    `json:"paidAmount"`
	PaymentStatus   PaymentStatus      `json:"paymentStatus"`
	ApprovalStatus  ApprovalStatus     `json:"approvalStatus"`
	RejectionReason string             `json:"rejectionReason,omitempty"`
	ApprovedBy      string             `json:"approvedBy,omitempty"`
	PaymentLink     string             `json:"paymentLink,omitempty"`
	PaymentProvider providers.Provider `json:"paymentProvider,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	IssueDate       time.Time          `json:"issueDate"`
	DueDate         time.Time          `json:"dueDate"`
	ApprovedAt      *time.Time         `json:"approvedAt,omitempty"`
	SentAt          *time.Time         `json:"sentAt,omitempty"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	CancelledAt     *time.Time         `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Balance is the amount still owed, never negative.
func (inv *Invoice) Balance() decimal.Decimal {
	b := inv.Total.Sub(inv.PaidAmount)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// LinkEligible reports whether a payment link may be generated.
func (inv *Invoice) LinkEligible() bool {
	if inv.PaymentStatus == PaymentCancelled || inv.PaymentStatus == PaymentPaid {
		return false
	}
	if inv.ApprovalStatus == ApprovalRejected {
		return false
	}
	return inv.Total.IsPositive()
}

// Clone returns a deep copy.
func (inv *Invoice) Clone() *Invoice {
	cp := *inv
	if inv.LineItems != nil {
		cp.LineItems = make([]LineItem, len(inv.LineItems))
		copy(cp.LineItems, inv.LineItems)
	}
	cp.ApprovedAt = cloneTime(inv.ApprovedAt)
	cp.SentAt = cloneTime(inv.SentAt)
	cp.PaidAt = cloneTime(inv.PaidAt)
	cp.CancelledAt = cloneTime(inv.CancelledAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PaymentRecord is one payment applied to an invoice.
type PaymentRecord struct {
	ID           string             `json:"id"`
	InvoiceID    string             `json:"invoiceId"`
	Amount       decimal.Decimal    `json:"amount"`
	Currency     string             `json:"currency"`
	Provider     providers.Provider `json:"provider"`
	Status       RecordStatus       `json:"status"`
	ExternalTxID string             `json:"externalTxId,omitempty"`
	Note         string             `json:"note,omitempty"`
	PaidAt       time.Time          `json:"paidAt"`
	DeletedAt    *time.Time         `json:"deletedAt,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// Counts reports whether the record contributes to the paid amount.
func (p *PaymentRecord) Counts() bool {
	return p.Status == RecordCompleted && p.DeletedAt == nil
}

// Store persists invoices and their payment records.
type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	// ListByOwner returns the owner's invoices newest first, starting after
	// the cursor when one is given.
	ListByOwner(ctx context.Context, ownerID string, after *pagination.Cursor, limit int) ([]*Invoice, error)
	// ListOverdueCandidates returns pending invoices due before now, ordered
	// by ID and starting after afterID.
	ListOverdueCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]*Invoice, error)
	GetPayment(ctx context.Context, id string) (*PaymentRecord, error)
	ListPayments(ctx context.Context, invoiceID string) ([]*PaymentRecord, error)
	// WithInvoiceLock runs fn with exclusive access to one invoice. Writes
	// made through tx are committed together if fn returns nil and discarded
	// otherwise.
	WithInvoiceLock(ctx context.Context, id string, fn func(tx Tx) error) error
}

// Tx is the locked view of one invoice handed to WithInvoiceLock callbacks.
type Tx interface {
	Invoice() *Invoice
	Update(ctx context.Context, inv *Invoice) error
	GetPayment(ctx context.Context, id string) (*PaymentRecord, error)
	// FindPaymentByExternalID returns nil, nil when no record matches.
	FindPaymentByExternalID(ctx context.Context, provider providers.Provider, externalTxID string) (*PaymentRecord, error)
	InsertPayment(ctx context.Context, p *PaymentRecord) error
	DeletePayment(ctx context.Context, id string, at time.Time) error
	SumCompletedPayments(ctx context.Context) (decimal.Decimal, error)
}

// LinkTrigger starts best-effort payment link generation for an invoice
// that has none. Implementations must return promptly and must not fail.
type LinkTrigger interface {
	TriggerDefaultLink(ctx context.Context, inv *Invoice)
}
