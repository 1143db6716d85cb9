package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey holds the validated *APIKey.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyPrincipal holds the caller's Principal.
	ContextKeyPrincipal = "authPrincipal"
)

// presentedKey returns the credential from Authorization, falling back to
// X-API-Key.
func presentedKey(c *gin.Context) string {
	if v := c.GetHeader("Authorization"); v != "" {
		return v
	}
	return c.GetHeader("X-API-Key")
}

// Middleware resolves the caller. Requests without a key pass through
// anonymous; a key that is presented but invalid is rejected with 401 so
// clients learn about revoked or expired keys immediately.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := presentedKey(c)
		if presented == "" {
			c.Next()
			return
		}

		key, err := m.ValidateKey(c.Request.Context(), presented)
		if err != nil {
			code := "invalid_api_key"
			if errors.Is(err, ErrNoAPIKey) {
				code = "unauthorized"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": err.Error(),
			})
			return
		}
		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyPrincipal, key.Principal())
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": "API key required. Include 'Authorization: Bearer bf_...' header.",
	})
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			abortUnauthorized(c)
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin capability.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		switch {
		case !ok:
			abortUnauthorized(c)
		case !p.Admin:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin capability required.",
			})
		default:
			c.Next()
		}
	}
}

// GetAPIKey returns the validated key, if any.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil, false
	}
	k, ok := v.(*APIKey)
	return k, ok
}

// GetPrincipal returns the authenticated caller.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
