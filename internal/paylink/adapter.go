package paylink

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mbd888/billflow/internal/credentials"
	"github.com/mbd888/billflow/internal/providers"
)

// Request is a provider-neutral link creation request.
type Request struct {
	// Reference is unique per Generate call and doubles as the provider
	// idempotency key, so retries of one call never create two checkouts.
	Reference     string
	InvoiceID     string
	InvoiceNumber string
	Description   string
	Currency      string
	// Amount is rounded to the currency precision; MinorAmount is the same
	// value in minor units.
	Amount        decimal.Decimal
	MinorAmount   int64
	CustomerEmail string
	ReturnURL     string
	CancelURL     string
	Metadata      map[string]string
	TestMode      bool
}

// Adapter creates hosted checkout links on one payment network.
//
// CreateLink returns *ProviderError when the network rejects the request
// and *TransientError for timeouts, transport failures and 5xx responses.
type Adapter interface {
	Provider() providers.Provider
	CreateLink(ctx context.Context, secrets credentials.Secrets, req Request) (string, error)
}
