package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noWait keeps tests fast; waits are covered by the backoff tests.
func noWait(int) time.Duration { return 0 }

func TestRun_StopsOnSuccess(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Policy{MaxRetries: 3, Backoff: noWait}, func(context.Context, int) error {
		calls++
		if calls < 2 {
			return errors.New("timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRun_PredicateStopsNonRetryable(t *testing.T) {
	rejected := errors.New("invalid currency")
	calls := 0
	err := Run(context.Background(), Policy{
		MaxRetries: 2,
		Backoff:    noWait,
		Retryable:  func(err error) bool { return !errors.Is(err, rejected) },
	}, func(context.Context, int) error {
		calls++
		return rejected
	})

	assert.ErrorIs(t, err, rejected)
	var ex *ExhaustedError
	assert.False(t, errors.As(err, &ex), "not exhausted")
	assert.Equal(t, 1, calls)
}

func TestRun_PermanentUnwrapped(t *testing.T) {
	inner := errors.New("unauthorized")
	calls := 0
	err := Run(context.Background(), Policy{MaxRetries: 4, Backoff: noWait}, func(context.Context, int) error {
		calls++
		return Permanent(inner)
	})
	assert.Equal(t, inner, err)
	assert.Equal(t, 1, calls)
}

func TestRun_ExhaustedAfterMaxRetries(t *testing.T) {
	unavailable := errors.New("503")
	var attempts []int
	err := Run(context.Background(), Policy{MaxRetries: 2, Backoff: noWait}, func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return unavailable
	})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, unavailable)
	assert.Equal(t, []int{0, 1, 2}, attempts)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestRun_NegativeRetriesRunsOnce(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Policy{MaxRetries: -1}, func(context.Context, int) error {
		calls++
		return errors.New("fail")
	})
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, calls)
}

func TestRun_WaitDoesNotBlockCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	started := make(chan struct{})

	go func() {
		done <- Run(ctx, Policy{
			MaxRetries: 2,
			Backoff:    func(int) time.Duration { return time.Hour },
		}, func(context.Context, int) error {
			close(started)
			return errors.New("fail")
		})
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestDo(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("connection refused")
	})
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, calls)

	calls = 0
	require.NoError(t, Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls, "zero attempts rounds up to one")
}

func TestExponential(t *testing.T) {
	b := Exponential(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(-1))
	assert.Equal(t, 100*time.Millisecond, b(0))
	assert.Equal(t, 200*time.Millisecond, b(1))
	assert.Equal(t, 400*time.Millisecond, b(2))
}

func TestWithJitter_StaysInBand(t *testing.T) {
	b := WithJitter(Exponential(100 * time.Millisecond))
	for i := 0; i < 100; i++ {
		got := b(1)
		assert.GreaterOrEqual(t, got, 150*time.Millisecond)
		assert.LessOrEqual(t, got, 250*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), WithJitter(noWait)(3))
}
