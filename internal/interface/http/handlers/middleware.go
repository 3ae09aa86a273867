package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// AdminAuth checks "Authorization: Bearer <token>" against a bcrypt hash.
// Tokens that already passed are remembered by digest so bcrypt runs once
// per distinct token, not once per request.
type AdminAuth struct {
	hash []byte

	mu       sync.RWMutex
	verified map[uint64]string
}

// NewAdminAuth creates the checker. An empty hash disables admin routes.
func NewAdminAuth(tokenHash string) *AdminAuth {
	return &AdminAuth{
		hash:     []byte(strings.TrimSpace(tokenHash)),
		verified: make(map[uint64]string),
	}
}

// HashToken returns the bcrypt hash to put into ADMIN_TOKEN_HASH.
func HashToken(token string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Enabled reports whether a token hash is configured.
func (a *AdminAuth) Enabled() bool {
	return len(a.hash) > 0
}

// Valid checks a raw token.
func (a *AdminAuth) Valid(token string) bool {
	if !a.Enabled() || token == "" {
		return false
	}

	key := xxhash.Sum64String(token)
	a.mu.RLock()
	known, ok := a.verified[key]
	a.mu.RUnlock()
	if ok {
		return subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1
	}

	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}

	a.mu.Lock()
	a.verified[key] = token
	a.mu.Unlock()
	return true
}

// Middleware aborts unauthenticated requests.
func (a *AdminAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "admin_disabled", "message": "admin API is not configured"},
			})
			return
		}

		if !a.Valid(BearerToken(c.GetHeader("Authorization"))) {
			c.Header("WWW-Authenticate", `Bearer realm="admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": "unauthorized", "message": "invalid or missing admin token"},
			})
			return
		}
		c.Next()
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
