package paylink

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mbd888/billflow/internal/credentials"
	"github.com/mbd888/billflow/internal/providers"
)

// DefaultPaystackURL is the production API host.
const DefaultPaystackURL = "https://api.paystack.co"

// Paystack creates links through transaction initialization. Amounts are
// sent in minor units.
type Paystack struct {
	baseURL string
	client  *http.Client
}

// NewPaystack creates a Paystack adapter.
func NewPaystack(baseURL string, client *http.Client) *Paystack {
	if baseURL == "" {
		baseURL = DefaultPaystackURL
	}
	return &Paystack{baseURL: strings.TrimRight(baseURL, "/"), client: orDefault(client)}
}

func (p *Paystack) Provider() providers.Provider { return providers.Paystack }

type paystackInitRequest struct {
	Amount      int64             `json:"amount"`
	Email       string            `json:"email"`
	Reference   string            `json:"reference"`
	Currency    string            `json:"currency"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (p *Paystack) CreateLink(ctx context.Context, secrets credentials.Secrets, req Request) (string, error) {
	if req.CustomerEmail == "" {
		return "", &ProviderError{Provider: providers.Paystack, Message: "customer email is required"}
	}

	status, raw, err := postJSON(ctx, p.client, p.baseURL+"/transaction/initialize",
		map[string]string{"Authorization": "Bearer " + secrets.SecretKey},
		paystackInitRequest{
			Amount:      req.MinorAmount,
			Email:       req.CustomerEmail,
			Reference:   req.Reference,
			Currency:    req.Currency,
			CallbackURL: req.ReturnURL,
			Metadata:    req.Metadata,
		})
	if err != nil {
		return "", transportError(providers.Paystack, err)
	}

	var resp paystackInitResponse
	decodeErr := json.Unmarshal(raw, &resp)

	if status < 200 || status > 299 {
		msg := resp.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(status)
		}
		return "", statusError(providers.Paystack, status, msg)
	}
	if decodeErr != nil {
		return "", &ProviderError{Provider: providers.Paystack, StatusCode: status, Message: "malformed response"}
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		msg := resp.Message
		if msg == "" {
			msg = "no authorization url returned"
		}
		return "", &ProviderError{Provider: providers.Paystack, StatusCode: status, Message: msg}
	}
	return resp.Data.AuthorizationURL, nil
}
