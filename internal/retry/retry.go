// Package retry provides a retry combinator with pluggable backoff and a
// retryable predicate.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff returns the wait before retry number attempt (0 for the first retry).
type Backoff func(attempt int) time.Duration

// Exponential waits base × 2^attempt.
func Exponential(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		return base << uint(attempt) //nolint:gosec // attempt bounded by MaxRetries
	}
}

// WithJitter spreads each wait of b by +-25%.
func WithJitter(b Backoff) Backoff {
	return func(attempt int) time.Duration {
		d := b(attempt)
		jitter := int64(d / 4)
		if jitter <= 0 {
			return d
		}
		return d + time.Duration(rand.Int64N(2*jitter+1)-jitter)
	}
}

// Policy describes how an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	Backoff    Backoff
	// Retryable decides whether err is worth another attempt. Nil retries
	// everything except *PermanentError.
	Retryable func(err error) bool
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that it is never retried.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Run calls fn until it succeeds, returns a non-retryable error, the retries
// are used up, or ctx is done. Waits happen in a select on ctx so a cancelled
// caller is released immediately.
//
// A non-retryable error is returned as is (a *PermanentError is unwrapped).
// Exhaustion returns *ExhaustedError wrapping the last error. Cancellation
// while waiting returns ctx.Err().
func Run(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Backoff == nil {
		p.Backoff = Exponential(100 * time.Millisecond)
	}

	attempts := p.MaxRetries + 1
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: err}
}

// Do calls fn up to maxAttempts times with jittered exponential backoff
// starting at baseDelay. Every error except a *PermanentError is retried.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return Run(ctx, Policy{
		MaxRetries: maxAttempts - 1,
		Backoff:    WithJitter(Exponential(baseDelay)),
	}, func(context.Context, int) error { return fn() })
}
