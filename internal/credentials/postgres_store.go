package credentials

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/billflow/internal/providers"
)

// PostgresStore persists credentials and settings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed credential store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `id, account_id, provider, public_key, secret_key, client_id, client_secret,
		is_active, is_test_mode, created_at, updated_at`

func (p *PostgresStore) Save(ctx context.Context, c *Credential) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, provider) DO UPDATE SET
			public_key = EXCLUDED.public_key,
			secret_key = EXCLUDED.secret_key,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			is_active = EXCLUDED.is_active,
			is_test_mode = EXCLUDED.is_test_mode,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.AccountID, string(c.Provider),
		nullString(c.PublicKey), nullString(c.SecretKey), nullString(c.ClientID), nullString(c.ClientSecret),
		c.IsActive, c.IsTestMode, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, accountID string, provider providers.Provider) (*Credential, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM payment_credentials
		WHERE account_id = $1 AND provider = $2`, accountID, string(provider))
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]*Credential, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM payment_credentials
		WHERE account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) GetSettings(ctx context.Context, accountID string) (*Settings, error) {
	s := &Settings{AccountID: accountID}
	var defaultProvider, billingEmail, redirectURL sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT default_provider, billing_email, redirect_url, updated_at
		FROM account_settings WHERE account_id = $1`, accountID,
	).Scan(&defaultProvider, &billingEmail, &redirectURL, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.DefaultProvider = providers.Provider(defaultProvider.String)
	s.BillingEmail = billingEmail.String
	s.RedirectURL = redirectURL.String
	return s, nil
}

func (p *PostgresStore) SaveSettings(ctx context.Context, s *Settings) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO account_settings (account_id, default_provider, billing_email, redirect_url, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			default_provider = EXCLUDED.default_provider,
			billing_email = EXCLUDED.billing_email,
			redirect_url = EXCLUDED.redirect_url,
			updated_at = EXCLUDED.updated_at`,
		s.AccountID, nullString(string(s.DefaultProvider)), nullString(s.BillingEmail),
		nullString(s.RedirectURL), s.UpdatedAt,
	)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCredential(s scanner) (*Credential, error) {
	c := &Credential{}
	var (
		provider                                     string
		publicKey, secretKey, clientID, clientSecret sql.NullString
	)
	if err := s.Scan(
		&c.ID, &c.AccountID, &provider, &publicKey, &secretKey, &clientID, &clientSecret,
		&c.IsActive, &c.IsTestMode, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Provider = providers.Provider(provider)
	c.PublicKey = publicKey.String
	c.SecretKey = secretKey.String
	c.ClientID = clientID.String
	c.ClientSecret = clientSecret.String
	return c, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
