package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"tenant-auth-service/internal/security"
)

// Gin context keys set by Authenticate and RequireRefresh.
const (
	accessClaimsKey  = "auth.access_claims"
	refreshClaimsKey = "auth.refresh_claims"
)

type contextKey struct{ name string }

var clientIPKey = contextKey{"client_ip"}

// WithClientIP returns a context carrying the caller's IP for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the IP stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// AccessClaims returns the verified access token claims; ok is false when Authenticate did not run.
func AccessClaims(c *gin.Context) (*security.Claims, bool) {
	return claimsAt(c, accessClaimsKey)
}

// RefreshClaims returns the verified refresh token claims; ok is false when RequireRefresh did not run.
func RefreshClaims(c *gin.Context) (*security.Claims, bool) {
	return claimsAt(c, refreshClaimsKey)
}

func claimsAt(c *gin.Context, key string) (*security.Claims, bool) {
	v, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.Claims)
	return claims, ok && claims != nil
}
