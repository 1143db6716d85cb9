package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(name string) Checker {
	return func(context.Context) Status { return Status{Name: name, Healthy: true} }
}

func TestRegistry_Empty(t *testing.T) {
	ok, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, ok)
	assert.Empty(t, statuses)
}

func TestRegistry_AggregatesInOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("database", healthy("database"))
	r.Register("sweeper", func(context.Context) Status {
		return Status{Name: "sweeper", Healthy: false, Detail: "stopped"}
	})

	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "sweeper", statuses[1].Name)
	assert.Equal(t, "stopped", statuses[1].Detail)
}

func TestRegistry_FillsMissingName(t *testing.T) {
	r := NewRegistry()
	r.Register("vault", func(context.Context) Status { return Status{Healthy: true} })

	_, statuses := r.CheckAll(context.Background())
	assert.Equal(t, "vault", statuses[0].Name)
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	r.Register("stuck", func(ctx context.Context) Status {
		<-release
		return Status{Name: "stuck", Healthy: true}
	})

	start := time.Now()
	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "check timed out", statuses[0].Detail)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPing(t *testing.T) {
	up := Ping("database", func(context.Context) error { return nil })(context.Background())
	assert.True(t, up.Healthy)

	down := Ping("database", func(context.Context) error { return errors.New("connection refused") })(context.Background())
	assert.False(t, down.Healthy)
	assert.Equal(t, "database", down.Name)
	assert.Equal(t, "connection refused", down.Detail)
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("check", healthy("check"))
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()

	_, statuses := r.CheckAll(context.Background())
	assert.Len(t, statuses, 20)
}
