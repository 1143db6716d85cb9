package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, rpm, burst int) (*Limiter, *manualClock) {
	t.Helper()
	clock := &manualClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Hour})
	l.now = clock.Now
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiter_Burst(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("203.0.113.7"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("203.0.113.7"))
}

func TestLimiter_IndependentClients(t *testing.T) {
	l, _ := newTestLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		l.Allow("client-a")
	}
	assert.False(t, l.Allow("client-a"))
	assert.True(t, l.Allow("client-b"))
}

func TestLimiter_Replenishes(t *testing.T) {
	l, clock := newTestLimiter(t, 600, 1)

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	clock.Advance(150 * time.Millisecond)
	assert.True(t, l.Allow("k"))
}

func TestLimiter_RejectedCallsDoNotConsume(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 1)
	require.True(t, l.Allow("k"))

	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("k"))
	}
	clock.Advance(1100 * time.Millisecond)
	assert.True(t, l.Allow("k"))
}

func TestLimiter_EvictsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(t, 60, 1)
	l.Allow("old")
	clock.Advance(idleTTL + time.Second)
	l.Allow("fresh")

	l.evict()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "fresh")
}

func TestLimiter_StopTwice(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1500*time.Millisecond))
}

func TestMiddleware_RejectsWithRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(t, 30, 1)

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/invoices", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/invoices", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("bf_live_aaaaaaaaaaaaaaaaaaaaaaaa_one").Code)

	w := send("bf_live_aaaaaaaaaaaaaaaaaaaaaaaa_one")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	// Keys sharing a long prefix still get separate buckets.
	assert.Equal(t, http.StatusOK, send("bf_live_aaaaaaaaaaaaaaaaaaaaaaaa_two").Code)
}
