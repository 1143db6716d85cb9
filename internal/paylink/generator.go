// Package paylink generates hosted payment links for invoices on the
// supported payment networks.
//
// A link is created outside the invoice lock: the invoice and credential are
// read, the network is called with retries, and the returned URL is then
// attached with a compare-and-set so concurrent generators for the same
// network keep a single winner.
package paylink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/circuitbreaker"
	"github.com/mbd888/billflow/internal/credentials"
	"github.com/mbd888/billflow/internal/invoice"
	"github.com/mbd888/billflow/internal/logging"
	"github.com/mbd888/billflow/internal/money"
	"github.com/mbd888/billflow/internal/notify"
	"github.com/mbd888/billflow/internal/providers"
	"github.com/mbd888/billflow/internal/retry"
	"github.com/mbd888/billflow/internal/traces"
)

// Config tunes network calls and background generation.
type Config struct {
	// Timeout bounds a single attempt.
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	// Workers bounds concurrent background generations. Jobs beyond it are
	// dropped; the invoice can still get a link on demand.
	Workers          int64
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// PublicBaseURL builds return URLs for accounts without a redirect URL.
	PublicBaseURL string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		BaseDelay:        500 * time.Millisecond,
		Workers:          8,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Result describes the link stored on an invoice.
type Result struct {
	InvoiceID string             `json:"invoiceId"`
	Provider  providers.Provider `json:"provider"`
	URL       string             `json:"url"`
	Reference string             `json:"reference,omitempty"`
	// Reused is true when the invoice already had a link for the network.
	Reused bool `json:"reused"`
}

// Generator creates payment links and attaches them to invoices.
type Generator struct {
	invoices *invoice.Service
	creds    *credentials.Resolver
	adapters map[providers.Provider]Adapter
	breaker  *circuitbreaker.Breaker
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config

	flight  singleflight.Group
	workers *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewGenerator creates a generator for the given adapters.
func NewGenerator(invoices *invoice.Service, creds *credentials.Resolver, cfg Config, adapters ...Adapter) *Generator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	g := &Generator{
		invoices: invoices,
		creds:    creds,
		adapters: make(map[providers.Provider]Adapter, len(adapters)),
		breaker:  circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:   slog.Default(),
		cfg:      cfg,
		workers:  semaphore.NewWeighted(cfg.Workers),
	}
	for _, a := range adapters {
		g.adapters[a.Provider()] = a
	}
	g.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		g.logger.Warn("payment network circuit changed", "provider", key, "from", from.String(), "to", to.String())
	})
	return g
}

// WithNotifier sends a notification whenever a new link is stored.
func (g *Generator) WithNotifier(n notify.Notifier) *Generator {
	g.notifier = n
	return g
}

// WithLogger sets the logger used by background generation.
func (g *Generator) WithLogger(l *slog.Logger) *Generator {
	if l != nil {
		g.logger = l
	}
	return g
}

// Generate returns a payment link for the invoice on provider, creating one
// if the invoice has none for that network. An empty provider selects the
// account's default network.
func (g *Generator) Generate(ctx context.Context, caller auth.Principal, invoiceID string, provider providers.Provider) (*Result, error) {
	inv, err := g.invoices.Get(ctx, caller, invoiceID)
	if err != nil {
		return nil, err
	}
	if provider == "" {
		p, ok, err := g.creds.DefaultProvider(ctx, inv.OwnerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no active payment credentials", ErrUnavailable)
		}
		provider = p
	}
	return g.generate(ctx, inv, provider)
}

// TriggerDefaultLink generates a link on the account's default network in
// the background. It never blocks the caller and never reports failure.
func (g *Generator) TriggerDefaultLink(ctx context.Context, inv *invoice.Invoice) {
	if !g.workers.TryAcquire(1) {
		LinkJobsTotal.WithLabelValues("dropped").Inc()
		logging.L(ctx).Warn("payment link worker pool saturated, skipping", "invoiceId", inv.ID)
		return
	}
	LinkJobsTotal.WithLabelValues("started").Inc()

	// The request that saved the invoice may finish before the job does.
	bg := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.workers.Release(1)
		g.runDefault(bg, inv)
	}()
}

func (g *Generator) runDefault(ctx context.Context, inv *invoice.Invoice) {
	log := logging.L(ctx).With("invoiceId", inv.ID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("payment link job panicked", "panic", r)
		}
	}()

	provider, ok, err := g.creds.DefaultProvider(ctx, inv.OwnerID)
	if err != nil {
		log.Warn("default payment network lookup failed", "error", err)
		return
	}
	if !ok {
		log.Debug("no active payment credentials, skipping link")
		return
	}

	res, err := g.generate(ctx, inv, provider)
	if err != nil {
		log.Warn("background payment link failed", "provider", string(provider), "error", err)
		return
	}
	log.Info("payment link ready", "provider", string(provider), "reused", res.Reused)
}

// Wait blocks until background jobs finish.
func (g *Generator) Wait() {
	g.wg.Wait()
}

func (g *Generator) generate(ctx context.Context, inv *invoice.Invoice, provider providers.Provider) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "paylink.Generate",
		traces.InvoiceID(inv.ID),
		traces.Provider(string(provider)),
		traces.Currency(inv.Currency),
	)
	defer span.End()
	done := observeGenerate(provider)

	adapter, ok := g.adapters[provider]
	if !ok {
		done(outcomeFailed)
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, provider)
	}
	if !inv.LinkEligible() {
		done(outcomeRejected)
		return nil, ErrNotEligible
	}
	if inv.PaymentLink != "" && inv.PaymentProvider == provider {
		done(outcomeReused)
		return &Result{InvoiceID: inv.ID, Provider: provider, URL: inv.PaymentLink, Reused: true}, nil
	}
	minor := money.ToMinor(inv.Total, inv.Currency)
	if minor <= 0 {
		done(outcomeRejected)
		return nil, ErrNotEligible
	}

	// A total or currency change must not join a flight priced for the old one.
	key := fmt.Sprintf("%s:%s:%s:%d", inv.ID, provider, inv.Currency, minor)
	v, err, _ := g.flight.Do(key, func() (interface{}, error) {
		return g.create(ctx, inv, adapter, minor)
	})
	if err != nil {
		span.RecordError(err)
		done(outcomeFor(err))
		return nil, err
	}
	// Callers collapsed onto one flight share its result.
	res := *v.(*Result)
	if res.Reused {
		done(outcomeReused)
	} else {
		done(outcomeCreated)
	}
	return &res, nil
}

func (g *Generator) create(ctx context.Context, inv *invoice.Invoice, adapter Adapter, minor int64) (*Result, error) {
	provider := adapter.Provider()

	cred, secrets, err := g.creds.Resolve(ctx, inv.OwnerID, provider)
	if err != nil {
		if errors.Is(err, credentials.ErrSecretUnavailable) {
			logging.L(ctx).Error("payment credential unusable", "provider", string(provider), "accountId", inv.OwnerID, "error", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	settings, err := g.creds.Settings(ctx, inv.OwnerID)
	if err != nil {
		return nil, err
	}

	req := g.buildRequest(inv, settings, minor, cred.IsTestMode)
	url, err := g.call(ctx, adapter, secrets, req)
	if err != nil {
		return nil, err
	}

	// The link exists at the network now; store it even if the caller left.
	stored, written, err := g.invoices.AttachPaymentLink(context.WithoutCancel(ctx), inv.ID, invoice.PricedLink{
		Provider:    provider,
		URL:         url,
		Currency:    inv.Currency,
		MinorAmount: minor,
	})
	if err != nil {
		switch {
		case errors.Is(err, invoice.ErrLinkStale):
			logging.L(ctx).Warn("payment link discarded, invoice changed during creation",
				"invoiceId", inv.ID, "provider", string(provider), "reference", req.Reference)
			return nil, fmt.Errorf("%w: invoice changed while the link was created", ErrNotEligible)
		case errors.Is(err, invoice.ErrCancelled), errors.Is(err, invoice.ErrAlreadyPaid):
			logging.L(ctx).Warn("payment link discarded, invoice no longer collectable",
				"invoiceId", inv.ID, "provider", string(provider), "reference", req.Reference)
			return nil, ErrNotEligible
		}
		return nil, err
	}
	if !written {
		return &Result{InvoiceID: inv.ID, Provider: provider, URL: stored.PaymentLink, Reused: true}, nil
	}

	logging.L(ctx).Info("payment link created",
		"invoiceId", inv.ID, "provider", string(provider), "reference", req.Reference)
	if g.notifier != nil {
		g.notifier.Notify(ctx, invoice.NotificationFor(notify.EventPaymentLinkCreated, stored))
	}
	return &Result{InvoiceID: inv.ID, Provider: provider, URL: url, Reference: req.Reference}, nil
}

func (g *Generator) buildRequest(inv *invoice.Invoice, settings *credentials.Settings, minor int64, testMode bool) Request {
	ref := uuid.NewString()
	email := inv.Client.Email
	if email == "" && settings != nil {
		email = settings.BillingEmail
	}

	returnURL, cancelURL := g.redirects(inv, settings)

	desc := "Invoice " + inv.InvoiceNumber
	if inv.Client.Name != "" {
		desc += " for " + inv.Client.Name
	}

	return Request{
		Reference:     ref,
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Description:   desc,
		Currency:      inv.Currency,
		Amount:        money.Round(inv.Total, inv.Currency),
		MinorAmount:   minor,
		CustomerEmail: email,
		ReturnURL:     returnURL,
		CancelURL:     cancelURL,
		Metadata: map[string]string{
			"invoice_id":     inv.ID,
			"invoice_number": inv.InvoiceNumber,
			"account_id":     inv.OwnerID,
			"reference":      ref,
		},
		TestMode: testMode,
	}
}

func (g *Generator) redirects(inv *invoice.Invoice, settings *credentials.Settings) (string, string) {
	if settings != nil && settings.RedirectURL != "" {
		return settings.RedirectURL, settings.RedirectURL
	}
	if g.cfg.PublicBaseURL == "" {
		return "", ""
	}
	base := strings.TrimRight(g.cfg.PublicBaseURL, "/") + "/pay/" + inv.ID
	return base + "?status=success", base + "?status=cancelled"
}

// call runs the adapter through the network's circuit and the retry policy
// and normalizes the outcome to a URL, *ProviderError or *TransientError.
func (g *Generator) call(ctx context.Context, adapter Adapter, secrets credentials.Secrets, req Request) (string, error) {
	provider := adapter.Provider()
	var url string
	attempts := 0

	policy := retry.Policy{
		MaxRetries: g.cfg.MaxRetries,
		Backoff:    retry.WithJitter(retry.Exponential(g.cfg.BaseDelay)),
		Retryable:  IsTransient,
	}
	err := g.breaker.Execute(string(provider), func() error {
		return retry.Run(ctx, policy, func(ctx context.Context, attempt int) error {
			attempts = attempt + 1
			actx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()

			u, err := adapter.CreateLink(actx, secrets, req)
			if err != nil {
				LinkAttemptsTotal.WithLabelValues(string(provider), attemptOutcome(err)).Inc()
				logging.L(ctx).Debug("payment link attempt failed",
					"provider", string(provider), "attempt", attempts, "error", err)
				return err
			}
			LinkAttemptsTotal.WithLabelValues(string(provider), "ok").Inc()
			url = u
			return nil
		})
	}, func(err error) bool {
		return !isRejection(err)
	})
	if err == nil {
		return url, nil
	}

	var exhausted *retry.ExhaustedError
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "", &TransientError{Provider: provider, Err: err}
	case errors.As(err, &exhausted):
		te := &TransientError{Provider: provider, Attempts: exhausted.Attempts, Err: exhausted.Err}
		var inner *TransientError
		if errors.As(exhausted.Err, &inner) {
			te.StatusCode = inner.StatusCode
			te.Err = inner.Err
		}
		return "", te
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", &TransientError{Provider: provider, Attempts: attempts, Err: err}
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return "", err
	}
	var te *TransientError
	if errors.As(err, &te) {
		return "", err
	}
	return "", &ProviderError{Provider: provider, Message: err.Error()}
}

// isRejection reports errors that say nothing about the network's health.
// An unreachable network is not a rejection.
func isRejection(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Err == nil
}

func attemptOutcome(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "rejected"
}
