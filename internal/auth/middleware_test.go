package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, guards ...gin.HandlerFunc) (*gin.Engine, *Manager) {
	t.Helper()
	mgr := NewManager(NewMemoryStore())
	r := gin.New()
	r.Use(Middleware(mgr))
	handlers := append(guards, func(c *gin.Context) {
		p, _ := GetPrincipal(c)
		c.JSON(http.StatusOK, p)
	})
	r.GET("/test", handlers...)
	return r, mgr
}

func issue(t *testing.T, mgr *Manager, account string, admin bool) string {
	t.Helper()
	raw, _, err := mgr.GenerateKey(context.Background(), account, "test-key", admin)
	require.NoError(t, err)
	return raw
}

func get(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ResolvesPrincipal(t *testing.T) {
	r, mgr := newRouter(t)
	raw := issue(t, mgr, "acct_abc", false)

	w := get(r, "Authorization", "Bearer "+raw)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accountId":"acct_abc"`)

	w = get(r, "X-API-Key", raw)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accountId":"acct_abc"`)
}

func TestMiddleware_SetsAPIKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	raw := issue(t, mgr, "acct_abc", false)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)
	c.Request.Header.Set("Authorization", "Bearer "+raw)
	Middleware(mgr)(c)

	key, ok := GetAPIKey(c)
	require.True(t, ok)
	assert.Equal(t, "test-key", key.Name)
}

func TestMiddleware_AnonymousPassesThrough(t *testing.T) {
	r, _ := newRouter(t)
	assert.Equal(t, http.StatusOK, get(r, "", "").Code)
}

func TestMiddleware_InvalidKeyRejected(t *testing.T) {
	r, mgr := newRouter(t)
	raw := issue(t, mgr, "acct_abc", false)
	require.NoError(t, mgr.RevokeKey(context.Background(), mustKeyID(t, mgr, "acct_abc"), "acct_abc"))

	for _, presented := range []string{"Bearer bf_nope", "Bearer " + raw} {
		w := get(r, "Authorization", presented)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_api_key")
	}
}

func mustKeyID(t *testing.T, mgr *Manager, account string) string {
	t.Helper()
	keys, err := mgr.ListKeys(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	return keys[0].ID
}

func TestRequireAuth(t *testing.T) {
	r, mgr := newRouter(t, RequireAuth())
	raw := issue(t, mgr, "acct_abc", false)

	assert.Equal(t, http.StatusUnauthorized, get(r, "", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "Authorization", raw).Code)
}

func TestRequireAdmin(t *testing.T) {
	r, mgr := newRouter(t, RequireAdmin())
	userKey := issue(t, mgr, "acct_abc", false)
	adminKey := issue(t, mgr, "acct_ops", true)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"no key", "", http.StatusUnauthorized},
		{"regular key", userKey, http.StatusForbidden},
		{"admin key", adminKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := ""
			if tt.key != "" {
				header = "Authorization"
			}
			assert.Equal(t, tt.want, get(r, header, "Bearer "+tt.key).Code)
		})
	}
}

func TestGetPrincipal_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := GetPrincipal(c)
	assert.False(t, ok)
}
