package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/billflow/internal/idgen"
	"github.com/mbd888/billflow/internal/providers"
	"github.com/mbd888/billflow/internal/syncutil"
	"github.com/mbd888/billflow/internal/validation"
	"github.com/mbd888/billflow/internal/vault"
)

// Resolver is the only path from stored ciphertext to usable secrets.
type Resolver struct {
	store Store
	vault *vault.Vault
	locks syncutil.KeyedMutex // serializes Put per (account, provider)
}

// NewResolver creates a resolver over store using v for decryption.
func NewResolver(store Store, v *vault.Vault) *Resolver {
	return &Resolver{store: store, vault: v}
}

// Resolve returns the active credential for (accountID, provider) and its
// decrypted secrets. It fails with ErrNotFound, ErrInactive or
// ErrSecretUnavailable; the last covers ciphertext the vault cannot open and
// credentials missing a field the provider needs.
func (r *Resolver) Resolve(ctx context.Context, accountID string, provider providers.Provider) (*Credential, Secrets, error) {
	c, err := r.store.Get(ctx, accountID, provider)
	if err != nil {
		return nil, Secrets{}, err
	}
	if !c.IsActive {
		return nil, Secrets{}, ErrInactive
	}

	var s Secrets
	fields := []struct {
		sealed string
		dst    *string
	}{
		{c.PublicKey, &s.PublicKey},
		{c.SecretKey, &s.SecretKey},
		{c.ClientID, &s.ClientID},
		{c.ClientSecret, &s.ClientSecret},
	}
	for _, f := range fields {
		plain, ok := r.vault.Reveal(f.sealed)
		if !ok {
			return nil, Secrets{}, ErrSecretUnavailable
		}
		*f.dst = plain
	}
	if !s.Complete(provider) {
		return nil, Secrets{}, fmt.Errorf("%w: missing key fields for %s", ErrSecretUnavailable, provider)
	}
	return c, s, nil
}

// DefaultProvider picks the network used when the caller names none.
func (r *Resolver) DefaultProvider(ctx context.Context, accountID string) (providers.Provider, bool, error) {
	settings, err := r.store.GetSettings(ctx, accountID)
	if err != nil {
		return "", false, err
	}
	creds, err := r.store.ListByAccount(ctx, accountID)
	if err != nil {
		return "", false, err
	}
	p, ok := SelectDefault(settings, creds)
	return p, ok, nil
}

// Settings returns the account's payment preferences.
func (r *Resolver) Settings(ctx context.Context, accountID string) (*Settings, error) {
	return r.store.GetSettings(ctx, accountID)
}

// PutRequest carries plaintext key material for Put.
type PutRequest struct {
	AccountID  string             `validate:"required,max=64"`
	Provider   providers.Provider `validate:"required"`
	Secrets    Secrets
	IsActive   bool
	IsTestMode bool
}

// Put encrypts req's secrets and stores them as the account's credential
// for the provider, replacing any previous one.
func (r *Resolver) Put(ctx context.Context, req PutRequest) (*Credential, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if !req.Provider.SupportsLinks() {
		return nil, validation.NewError("provider", "payment links are not supported on "+string(req.Provider))
	}
	if !req.Secrets.Complete(req.Provider) {
		return nil, validation.NewError("secrets", "missing key fields for "+string(req.Provider))
	}

	now := time.Now().UTC()
	c := &Credential{
		AccountID:  req.AccountID,
		Provider:   req.Provider,
		IsActive:   req.IsActive,
		IsTestMode: req.IsTestMode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	plain := []struct {
		value string
		dst   *string
	}{
		{req.Secrets.PublicKey, &c.PublicKey},
		{req.Secrets.SecretKey, &c.SecretKey},
		{req.Secrets.ClientID, &c.ClientID},
		{req.Secrets.ClientSecret, &c.ClientSecret},
	}
	for _, p := range plain {
		sealed, err := r.vault.Encrypt(strings.TrimSpace(p.value))
		if err != nil {
			return nil, fmt.Errorf("encrypt credential: %w", err)
		}
		*p.dst = sealed
	}

	unlock := r.locks.Lock(req.AccountID + ":" + string(req.Provider))
	defer unlock()

	existing, err := r.store.Get(ctx, req.AccountID, req.Provider)
	switch {
	case err == nil:
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrNotFound):
		c.ID = idgen.WithPrefix("cred_")
	default:
		return nil, err
	}

	if err := r.store.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// PutSettings validates and stores account settings.
func (r *Resolver) PutSettings(ctx context.Context, s *Settings) error {
	if s.AccountID == "" {
		return validation.NewError("accountId", "is required")
	}
	if s.DefaultProvider != "" && !s.DefaultProvider.SupportsLinks() {
		return validation.NewError("defaultProvider", "payment links are not supported on "+string(s.DefaultProvider))
	}
	s.UpdatedAt = time.Now().UTC()
	return r.store.SaveSettings(ctx, s)
}
