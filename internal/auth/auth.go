// Package auth resolves the caller of an API request.
//
// Every request carries an API key ("Authorization: Bearer bf_..." or
// "X-API-Key"). Keys belong to one account and may carry the admin
// capability needed to approve or reject invoices. Keys are issued out of
// band (billctl keys create); only their SHA-256 hash is stored.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/mbd888/billflow/internal/idgen"
	"github.com/mbd888/billflow/internal/logging"
)

// KeyPrefix marks raw API keys.
const KeyPrefix = "bf_"

// touchInterval bounds how often last-used timestamps are written.
const touchInterval = time.Minute

var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
)

// Principal is the authorization context of a caller.
type Principal struct {
	AccountID string `json:"accountId"`
	Admin     bool   `json:"admin"`
	KeyID     string `json:"keyId,omitempty"`
}

// Owns reports whether the principal's account owns a resource.
func (p Principal) Owns(ownerID string) bool {
	return p.AccountID != "" && p.AccountID == ownerID
}

// System is the principal used by background jobs (overdue sweeps,
// provider confirmations). It carries the admin capability.
func System() Principal {
	return Principal{AccountID: "system", Admin: true}
}

// APIKey is the stored half of an API key.
type APIKey struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"`
	AccountID string     `json:"accountId"`
	Name      string     `json:"name"`
	Admin     bool       `json:"admin"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Principal returns the authorization context carried by the key.
func (k *APIKey) Principal() Principal {
	return Principal{AccountID: k.AccountID, Admin: k.Admin, KeyID: k.ID}
}

func (k *APIKey) usableAt(t time.Time) bool {
	return !k.Revoked && (k.ExpiresAt == nil || t.Before(*k.ExpiresAt))
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByAccount(ctx context.Context, accountID string) ([]*APIKey, error)
	// Touch records the last use of a key.
	Touch(ctx context.Context, keyID string, at time.Time) error
	// Revoke returns ErrKeyNotFound unless accountID owns keyID.
	Revoke(ctx context.Context, accountID, keyID string) error
}

// KeyRequest describes a key to issue.
type KeyRequest struct {
	AccountID string
	Name      string
	Admin     bool
	// TTL of zero issues a key that never expires.
	TTL time.Duration
}

// Manager issues and validates API keys.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// GenerateKey issues a non-expiring key. The raw key is returned once.
func (m *Manager) GenerateKey(ctx context.Context, accountID, name string, admin bool) (string, *APIKey, error) {
	return m.IssueKey(ctx, KeyRequest{AccountID: accountID, Name: name, Admin: admin})
}

// IssueKey creates a key for req.AccountID and returns the raw key with
// its stored metadata.
func (m *Manager) IssueKey(ctx context.Context, req KeyRequest) (string, *APIKey, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return "", nil, errors.New("account id is required")
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, err
	}
	raw := KeyPrefix + hex.EncodeToString(secret)

	now := m.now().UTC()
	key := &APIKey{
		ID:        idgen.WithPrefix("ak_"),
		Hash:      hashKey(raw),
		AccountID: req.AccountID,
		Name:      req.Name,
		Admin:     req.Admin,
		CreatedAt: now,
	}
	if req.TTL > 0 {
		exp := now.Add(req.TTL)
		key.ExpiresAt = &exp
	}
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// ValidateKey resolves a presented key, with or without its "Bearer "
// scheme, to its stored metadata.
func (m *Manager) ValidateKey(ctx context.Context, presented string) (*APIKey, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(presented, "Bearer "))
	if raw == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(raw))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	now := m.now()
	if !key.usableAt(now) {
		return nil, ErrInvalidAPIKey
	}

	if now.Sub(key.LastUsed) >= touchInterval {
		m.touch(ctx, key.ID, now)
	}
	return key, nil
}

// touch updates last-used off the request path.
func (m *Manager) touch(ctx context.Context, keyID string, at time.Time) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := m.store.Touch(tctx, keyID, at); err != nil {
			logging.L(ctx).Debug("api key touch failed", "keyId", keyID, "error", err)
		}
	}()
}

// ListKeys returns all keys for an account.
func (m *Manager) ListKeys(ctx context.Context, accountID string) ([]*APIKey, error) {
	return m.store.GetByAccount(ctx, accountID)
}

// RevokeKey revokes one of accountID's keys.
func (m *Manager) RevokeKey(ctx context.Context, keyID, accountID string) error {
	return m.store.Revoke(ctx, accountID, keyID)
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
