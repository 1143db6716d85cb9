package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVaultSecret = "0123456789abcdef0123456789abcdef"

func validConfig() Config {
	return Config{
		Env:           DefaultEnv,
		VaultSecret:   testVaultSecret,
		LinkWorkers:   DefaultLinkWorkers,
		SweepInterval: DefaultSweepInterval,
	}
}

func TestLoad_WithValidConfig(t *testing.T) {
	t.Setenv("VAULT_SECRET", testVaultSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("LINK_TIMEOUT", "3s")
	t.Setenv("LINK_WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.LinkTimeout)
	assert.Equal(t, int64(2), cfg.LinkWorkers)
	assert.Equal(t, DefaultLinkMaxRetries, cfg.LinkMaxRetries)
	assert.Equal(t, DefaultLinkBaseDelay, cfg.LinkBaseDelay)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultPaystackBaseURL, cfg.PaystackBaseURL)
	assert.Equal(t, DefaultPayPalSandboxURL, cfg.PayPalSandboxURL)
	assert.Equal(t, DefaultStripeAPIURL, cfg.StripeAPIURL)
}

func TestLoad_MissingVaultSecret(t *testing.T) {
	t.Setenv("VAULT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULT_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "short vault secret",
			mutate:  func(c *Config) { c.VaultSecret = "too-short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "relative public url",
			mutate:  func(c *Config) { c.PublicBaseURL = "/pay" },
			wantErr: "PUBLIC_BASE_URL",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.LinkMaxRetries = -1 },
			wantErr: "LINK_MAX_RETRIES",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.LinkWorkers = 0 },
			wantErr: "LINK_WORKERS",
		},
		{
			name:    "zero sweep interval",
			mutate:  func(c *Config) { c.SweepInterval = 0 },
			wantErr: "SWEEP_INTERVAL",
		},
		{
			name: "bootstrap in production",
			mutate: func(c *Config) {
				c.Env = "production"
				c.BootstrapAccount = "acct_dev"
			},
			wantErr: "BOOTSTRAP_ACCOUNT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_VAR", "custom_value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_DURATION", "750ms")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_INVALID", "not_a_number")
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99))

	assert.InDelta(t, 0.25, getEnvFloat("TEST_FLOAT", 1), 1e-9)
	assert.InDelta(t, 1.0, getEnvFloat("TEST_INVALID", 1), 1e-9)

	assert.Equal(t, 750*time.Millisecond, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_INVALID", time.Second))

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList("TEST_LIST"))
	assert.Nil(t, getEnvList("NONEXISTENT_VAR"))
}
