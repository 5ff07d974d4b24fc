package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"tenant-auth-service/internal/principal/domain"
	"tenant-auth-service/internal/security"
)

// Cookie names carrying the token pair.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

const bearerPrefix = "bearer "

// TokenVerifier is the subset of *security.TokenSigner the guards need.
type TokenVerifier interface {
	VerifyAccess(token string) (*security.Claims, error)
	VerifyRefresh(token string) (*security.Claims, error)
}

// Authenticate requires a valid access token from the accessToken cookie or an
// Authorization: Bearer header, and stores its claims for AccessClaims.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := accessToken(c)
		if token == "" {
			Abort(c, http.StatusUnauthorized, "missing access token")
			return
		}
		claims, err := v.VerifyAccess(token)
		if err != nil {
			Abort(c, http.StatusUnauthorized, tokenMessage(err))
			return
		}
		c.Set(accessClaimsKey, claims)
		c.Next()
	}
}

// RequireRefresh requires a valid refresh token from the refreshToken cookie and
// stores its claims for RefreshClaims.
func RequireRefresh(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(RefreshCookie)
		if err != nil || token == "" {
			Abort(c, http.StatusUnauthorized, "missing refresh token")
			return
		}
		claims, err := v.VerifyRefresh(token)
		if err != nil {
			Abort(c, http.StatusUnauthorized, tokenMessage(err))
			return
		}
		c.Set(refreshClaimsKey, claims)
		c.Next()
	}
}

// RequireRole admits only callers whose access token carries one of roles.
// It must run after Authenticate. No /auth route is role-restricted; services that
// verify our access tokens mount it on their own routes.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := AccessClaims(c)
		if !ok || !slices.Contains(roles, claims.Role) {
			Abort(c, http.StatusForbidden, "You don't have permission to perform this action.")
			return
		}
		c.Next()
	}
}

func accessToken(c *gin.Context) string {
	if v, err := c.Cookie(AccessCookie); err == nil && v != "" {
		return v
	}
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) <= len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerPrefix):])
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, security.ErrTokenMalformed):
		return "malformed token"
	default:
		return "invalid token"
	}
}
