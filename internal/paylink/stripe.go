package paylink

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mbd888/billflow/internal/credentials"
	"github.com/mbd888/billflow/internal/providers"
)

// DefaultStripeURL is the production API host.
const DefaultStripeURL = "https://api.stripe.com"

// Stripe creates hosted Checkout Sessions with one line item priced in
// minor units.
type Stripe struct {
	backends *stripe.Backends
}

// NewStripe creates a Stripe adapter. The SDK's own retries are disabled;
// the generator's retry policy applies instead.
func NewStripe(apiURL string, httpClient *http.Client) *Stripe {
	if apiURL == "" {
		apiURL = DefaultStripeURL
	}
	return &Stripe{
		backends: stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			URL:               stripe.String(strings.TrimRight(apiURL, "/")),
			HTTPClient:        orDefault(httpClient),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		}),
	}
}

func (s *Stripe) Provider() providers.Provider { return providers.Stripe }

func (s *Stripe) CreateLink(ctx context.Context, secrets credentials.Secrets, req Request) (string, error) {
	sc := client.New(secrets.SecretKey, s.backends)

	name := "Invoice " + req.InvoiceNumber
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.InvoiceID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
				UnitAmount: stripe.Int64(req.MinorAmount),
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if req.Description != "" {
		params.LineItems[0].PriceData.ProductData.Description = stripe.String(req.Description)
	}
	if req.ReturnURL != "" {
		params.SuccessURL = stripe.String(req.ReturnURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.Reference)
	params.Context = ctx

	sess, err := sc.CheckoutSessions.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode != 0 {
			msg := se.Msg
			if msg == "" {
				msg = http.StatusText(se.HTTPStatusCode)
			}
			return "", statusError(providers.Stripe, se.HTTPStatusCode, msg)
		}
		return "", transportError(providers.Stripe, err)
	}
	if sess.URL == "" {
		return "", &ProviderError{Provider: providers.Stripe, StatusCode: http.StatusOK, Message: "no checkout url returned"}
	}
	return sess.URL, nil
}
