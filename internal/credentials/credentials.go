// Package credentials stores per-account payment network credentials and
// the account settings that pick a default network.
//
// Secret fields are persisted as vault ciphertext. Plaintext only exists in
// a Secrets value returned by Resolver.Resolve, and Secrets never prints or
// serializes its contents.
package credentials

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/billflow/internal/providers"
)

var (
	ErrNotFound          = errors.New("payment credential not found")
	ErrInactive          = errors.New("payment credential is inactive")
	ErrSecretUnavailable = errors.New("payment credential secret is unavailable")
)

// Credential is one account's access to a payment network. The key fields
// hold vault ciphertext.
type Credential struct {
	ID           string             `json:"id"`
	AccountID    string             `json:"accountId"`
	Provider     providers.Provider `json:"provider"`
	PublicKey    string             `json:"-"`
	SecretKey    string             `json:"-"`
	ClientID     string             `json:"-"`
	ClientSecret string             `json:"-"`
	IsActive     bool               `json:"isActive"`
	IsTestMode   bool               `json:"isTestMode"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// Secrets is the decrypted key material of a credential.
type Secrets struct {
	PublicKey    string
	SecretKey    string
	ClientID     string
	ClientSecret string
}

const redacted = "[redacted]"

func (Secrets) String() string   { return redacted }
func (Secrets) GoString() string { return redacted }

// LogValue keeps secrets out of structured logs.
func (Secrets) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON keeps secrets out of API responses.
func (Secrets) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// Complete reports whether s has the fields provider needs to create links.
func (s Secrets) Complete(provider providers.Provider) bool {
	switch provider {
	case providers.Paystack, providers.Stripe:
		return s.SecretKey != ""
	case providers.PayPal:
		return s.ClientID != "" && s.ClientSecret != ""
	}
	return false
}

// Settings are the per-account payment preferences.
type Settings struct {
	AccountID       string             `json:"accountId"`
	DefaultProvider providers.Provider `json:"defaultProvider,omitempty"`
	BillingEmail    string             `json:"billingEmail,omitempty"`
	RedirectURL     string             `json:"redirectUrl,omitempty"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Store persists credentials and settings.
type Store interface {
	// Save inserts or replaces the credential for (AccountID, Provider).
	Save(ctx context.Context, c *Credential) error
	Get(ctx context.Context, accountID string, provider providers.Provider) (*Credential, error)
	// ListByAccount returns credentials newest first.
	ListByAccount(ctx context.Context, accountID string) ([]*Credential, error)
	// GetSettings returns empty settings for accounts that have none.
	GetSettings(ctx context.Context, accountID string) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error
}

// SelectDefault applies the default network policy: the configured default
// when its credential is active, else the newest active credential. creds
// must be ordered newest first.
func SelectDefault(settings *Settings, creds []*Credential) (providers.Provider, bool) {
	if settings != nil && settings.DefaultProvider != "" {
		for _, c := range creds {
			if c.Provider == settings.DefaultProvider && c.IsActive && c.Provider.SupportsLinks() {
				return c.Provider, true
			}
		}
	}
	for _, c := range creds {
		if c.IsActive && c.Provider.SupportsLinks() {
			return c.Provider, true
		}
	}
	return "", false
}
