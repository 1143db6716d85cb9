package paylink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mbd888/billflow/internal/credentials"
	"github.com/mbd888/billflow/internal/money"
	"github.com/mbd888/billflow/internal/providers"
)

const (
	DefaultPayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	DefaultPayPalLiveURL    = "https://api-m.paypal.com"
)

// PayPal creates checkout orders. It exchanges the credential's client id
// and secret for an access token on the sandbox or live host, then creates
// an order and returns its approval link.
type PayPal struct {
	sandboxURL string
	liveURL    string
	client     *http.Client
}

// NewPayPal creates a PayPal adapter.
func NewPayPal(sandboxURL, liveURL string, client *http.Client) *PayPal {
	if sandboxURL == "" {
		sandboxURL = DefaultPayPalSandboxURL
	}
	if liveURL == "" {
		liveURL = DefaultPayPalLiveURL
	}
	return &PayPal{
		sandboxURL: strings.TrimRight(sandboxURL, "/"),
		liveURL:    strings.TrimRight(liveURL, "/"),
		client:     orDefault(client),
	}
}

func (p *PayPal) Provider() providers.Provider { return providers.PayPal }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id,omitempty"`
	InvoiceID   string       `json:"invoice_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalApplicationContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action"`
}

type paypalOrderRequest struct {
	Intent             string                   `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit     `json:"purchase_units"`
	ApplicationContext paypalApplicationContext `json:"application_context"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalOrderResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Links  []paypalLink `json:"links"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (p *PayPal) baseURL(testMode bool) string {
	if testMode {
		return p.sandboxURL
	}
	return p.liveURL
}

func (p *PayPal) CreateLink(ctx context.Context, secrets credentials.Secrets, req Request) (string, error) {
	base := p.baseURL(req.TestMode)
	cc := clientcredentials.Config{
		ClientID:     secrets.ClientID,
		ClientSecret: secrets.ClientSecret,
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, p.client))

	order := paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.InvoiceNumber,
			CustomID:    req.InvoiceID,
			Description: truncate(req.Description, 127),
			Amount: paypalAmount{
				CurrencyCode: req.Currency,
				Value:        money.StringFixed(req.Amount, req.Currency),
			},
		}},
		ApplicationContext: paypalApplicationContext{
			ReturnURL:  req.ReturnURL,
			CancelURL:  req.CancelURL,
			UserAction: "PAY_NOW",
		},
	}

	status, raw, err := postJSON(ctx, client, base+"/v2/checkout/orders",
		map[string]string{"PayPal-Request-Id": req.Reference}, order)
	if err != nil {
		return "", p.tokenOrTransportError(err)
	}

	if status < 200 || status > 299 {
		return "", statusError(providers.PayPal, status, paypalMessage(raw, status))
	}

	var resp paypalOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ProviderError{Provider: providers.PayPal, StatusCode: status, Message: "malformed response"}
	}
	// Link order is not guaranteed; search by relation.
	for _, rel := range []string{"approve", "payer-action"} {
		for _, l := range resp.Links {
			if strings.EqualFold(l.Rel, rel) && l.Href != "" {
				return l.Href, nil
			}
		}
	}
	return "", &ProviderError{Provider: providers.PayPal, StatusCode: status, Message: "no approval link returned"}
}

func (p *PayPal) tokenOrTransportError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = http.StatusText(re.Response.StatusCode)
		}
		return statusError(providers.PayPal, re.Response.StatusCode, "token exchange failed: "+msg)
	}
	return transportError(providers.PayPal, err)
}

func paypalMessage(raw []byte, status int) string {
	var e paypalErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil || (e.Message == "" && e.Name == "") {
		return http.StatusText(status)
	}
	msg := e.Message
	if msg == "" {
		msg = e.Name
	}
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		msg += ": " + e.Details[0].Description
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
