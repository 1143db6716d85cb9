package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_ZeroValue(t *testing.T) {
	var m KeyedMutex
	unlock := m.Lock("inv_1")
	unlock()
	unlock = m.Lock("inv_1")
	unlock()
}

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	m := NewKeyedMutex(16)
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(context.Background(), "inv_1")
			require.NoError(t, err)
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	m := NewKeyedMutex(0)
	unlock := m.Lock("inv_1")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := m.LockContext(ctx, "inv_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, got)
}

func TestKeyedMutex_UnlockHandsOver(t *testing.T) {
	m := NewKeyedMutex(0)
	unlock := m.Lock("acct_1:stripe")

	acquired := make(chan struct{})
	go func() {
		next := m.Lock("acct_1:stripe")
		close(acquired)
		next()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestKeyedMutex_SingleShardSerializesAllKeys(t *testing.T) {
	m := NewKeyedMutex(1)
	unlock := m.Lock("a")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.LockContext(ctx, "b")
	assert.Error(t, err)
}
