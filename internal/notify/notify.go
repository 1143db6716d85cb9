// Package notify delivers invoice notifications to the outbound messaging
// collaborator (email/WhatsApp senders live behind a webhook).
//
// Delivery is fire-and-forget: a failed notification is logged and counted
// but never rolls back the operation that produced it.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/billflow/internal/idgen"
	"github.com/mbd888/billflow/internal/retry"
)

// Event names the reason for a notification.
type Event string

const (
	EventPaymentLinkCreated Event = "invoice.payment_link_created"
	EventPaymentRecorded    Event = "invoice.payment_recorded"
	EventInvoicePaid        Event = "invoice.paid"
	EventInvoiceSent        Event = "invoice.sent"
)

// Notification is the payload handed to the messaging collaborator.
type Notification struct {
	ID             string    `json:"id"`
	Event          Event     `json:"event"`
	AccountID      string    `json:"accountId"`
	InvoiceID      string    `json:"invoiceId"`
	InvoiceNumber  string    `json:"invoiceNumber,omitempty"`
	PaymentLink    string    `json:"paymentLink,omitempty"`
	FormattedTotal string    `json:"formattedTotal"`
	DueDate        time.Time `json:"dueDate"`
	Timestamp      time.Time `json:"timestamp"`
}

// Notifier accepts notifications. Implementations must not block the caller
// on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

var deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billflow",
	Subsystem: "notify",
	Name:      "deliveries_total",
	Help:      "Notification deliveries by event and outcome.",
}, []string{"event", "outcome"})

func init() {
	prometheus.MustRegister(deliveries)
}

// Dispatcher posts notifications as signed JSON to a webhook URL.
type Dispatcher struct {
	url         string
	secret      string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewDispatcher creates a webhook dispatcher. secret may be empty, in which
// case requests are not signed.
func NewDispatcher(url, secret string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		logger:      logger,
	}
}

// WithHTTPClient replaces the HTTP client.
func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	d.client = c
	return d
}

// WithRetry overrides the delivery retry schedule.
func (d *Dispatcher) WithRetry(maxAttempts int, baseDelay time.Duration) *Dispatcher {
	d.maxAttempts = maxAttempts
	d.baseDelay = baseDelay
	return d
}

// Notify delivers n in the background.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if n.ID == "" {
		n.ID = idgen.WithPrefix("ntf_")
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	// Detach from the request so delivery outlives it.
	bg := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(bg, n); err != nil {
			deliveries.WithLabelValues(string(n.Event), "failed").Inc()
			d.logger.Warn("notification delivery failed",
				"event", n.Event, "invoiceId", n.InvoiceID, "error", err)
			return
		}
		deliveries.WithLabelValues(string(n.Event), "delivered").Inc()
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal notification: %w", err))
	}

	return retry.Do(ctx, d.maxAttempts, d.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Billflow-Event", string(n.Event))
		req.Header.Set("X-Billflow-Timestamp", strconv.FormatInt(n.Timestamp.Unix(), 10))
		if d.secret != "" {
			req.Header.Set("X-Billflow-Signature", Sign(payload, d.secret))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("status %d", resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
	})
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// LogNotifier writes notifications to the log. It is used when no webhook
// is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) {
	l.Logger.Info("notification",
		"event", n.Event,
		"invoiceId", n.InvoiceID,
		"paymentLink", n.PaymentLink,
		"formattedTotal", n.FormattedTotal,
		"dueDate", n.DueDate.Format("2006-01-02"))
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// Sent returns a copy of the recorded notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}
