package paylink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/mbd888/billflow/internal/providers"
)

var (
	// ErrUnavailable means no usable credential exists for the network:
	// missing, inactive, or one the vault cannot decrypt.
	ErrUnavailable = errors.New("payment link unavailable")
	// ErrNotEligible means the invoice cannot be collected with a link.
	ErrNotEligible = errors.New("invoice is not eligible for a payment link")
	// ErrUnsupported means the network has no adapter.
	ErrUnsupported = errors.New("payment network not supported")
)

// ProviderError is a rejection by the payment network, or a failure to
// reach it that a retry would not fix. It is not retried. Err carries the
// transport failure, if any.
type ProviderError struct {
	Provider   providers.Provider
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider.Label(), e.Message)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Provider.Label(), e.Message, e.StatusCode)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TransientError is a timeout or 5xx from the payment network. The caller may retry later.
type TransientError struct {
	Provider   providers.Provider
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransientError) Error() string {
	msg := fmt.Sprintf("%s temporarily unavailable", e.Provider.Label())
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientError) Unwrap() error { return e.Err }

// Retryable is always true.
func (e *TransientError) Retryable() bool { return true }

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusError classifies a non-2xx HTTP response. Only 5xx and 408 are
// retried; a 429 is reported as-is so the caller does not hammer a
// throttled account.
func statusError(provider providers.Provider, status int, message string) error {
	if status >= 500 || status == http.StatusRequestTimeout {
		return &TransientError{Provider: provider, StatusCode: status, Err: errors.New(message)}
	}
	return &ProviderError{Provider: provider, StatusCode: status, Message: message}
}

// transportError classifies a failure to get a response. Timeouts and
// caller cancellation are transient; refused connections, DNS and TLS
// failures are not.
func transportError(provider providers.Provider, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Provider: provider, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransientError{Provider: provider, Err: err}
	}
	return &ProviderError{Provider: provider, Message: "request failed: " + err.Error(), Err: err}
}
