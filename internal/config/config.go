// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Credential vault
	VaultSecret string

	// Public URL of this deployment, used for payment return pages
	PublicBaseURL string

	// Notifications
	NotifyWebhookURL    string
	NotifyWebhookSecret string

	// Payment networks
	PaystackBaseURL  string
	PayPalSandboxURL string
	PayPalLiveURL    string
	StripeAPIURL     string

	// Payment link generation
	LinkTimeout    time.Duration
	LinkMaxRetries int
	LinkBaseDelay  time.Duration
	LinkWorkers    int64

	// Overdue sweeper
	SweepInterval time.Duration

	// Security
	RateLimitRPM int
	CORSOrigins  []string // empty disables CORS

	// Bootstrap creates an admin API key for this account on an empty
	// in-memory store (development only).
	BootstrapAccount string

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64 // root span sampling, 1 samples everything
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultPaystackBaseURL  = "https://api.paystack.co"
	DefaultPayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	DefaultPayPalLiveURL    = "https://api-m.paypal.com"
	DefaultStripeAPIURL     = "https://api.stripe.com"
	DefaultLinkTimeout      = 10 * time.Second
	DefaultLinkMaxRetries   = 2
	DefaultLinkBaseDelay    = 500 * time.Millisecond
	DefaultLinkWorkers      = 8
	DefaultSweepInterval    = 5 * time.Minute
	DefaultRateLimit        = 100

	// MinVaultSecretLength matches the vault's key derivation requirement.
	MinVaultSecretLength = 32
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		VaultSecret:         os.Getenv("VAULT_SECRET"), // Required, no default
		PublicBaseURL:       os.Getenv("PUBLIC_BASE_URL"),
		NotifyWebhookURL:    os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret: os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		PaystackBaseURL:     getEnv("PAYSTACK_BASE_URL", DefaultPaystackBaseURL),
		PayPalSandboxURL:    getEnv("PAYPAL_SANDBOX_URL", DefaultPayPalSandboxURL),
		PayPalLiveURL:       getEnv("PAYPAL_LIVE_URL", DefaultPayPalLiveURL),
		StripeAPIURL:        getEnv("STRIPE_API_URL", DefaultStripeAPIURL),
		LinkTimeout:         getEnvDuration("LINK_TIMEOUT", DefaultLinkTimeout),
		LinkMaxRetries:      int(getEnvInt64("LINK_MAX_RETRIES", DefaultLinkMaxRetries)),
		LinkBaseDelay:       getEnvDuration("LINK_BASE_DELAY", DefaultLinkBaseDelay),
		LinkWorkers:         getEnvInt64("LINK_WORKERS", DefaultLinkWorkers),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
		CORSOrigins:         getEnvList("CORS_ORIGINS"),
		BootstrapAccount:    os.Getenv("BOOTSTRAP_ACCOUNT"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:    getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.VaultSecret == "" {
		return fmt.Errorf("VAULT_SECRET is required")
	}
	if len(c.VaultSecret) < MinVaultSecretLength {
		return fmt.Errorf("VAULT_SECRET must be at least %d characters", MinVaultSecretLength)
	}

	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL")
		}
	}

	if c.LinkMaxRetries < 0 {
		return fmt.Errorf("LINK_MAX_RETRIES must not be negative")
	}
	if c.LinkWorkers <= 0 {
		return fmt.Errorf("LINK_WORKERS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}

	if c.IsProduction() && c.BootstrapAccount != "" {
		return fmt.Errorf("BOOTSTRAP_ACCOUNT is not allowed in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
