package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"tenant-auth-service/internal/logging"
	"tenant-auth-service/internal/metrics"
	"tenant-auth-service/internal/principal/domain"
	"tenant-auth-service/internal/security"
)

func init() { gin.SetMode(gin.TestMode) }

func testSigner(t *testing.T) *security.TokenSigner {
	t.Helper()
	s, err := security.NewTestTokenSigner()
	require.NoError(t, err)
	return s
}

func decodeErrors(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	return body
}

func protectedRouter(v TokenVerifier, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Authenticate(v)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		claims, ok := AccessClaims(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject})
	})
	r.GET("/p", handlers...)
	return r
}

func TestAuthenticate_Cookie(t *testing.T) {
	s := testSigner(t)
	token, err := s.SignAccess(security.AccessClaims{Subject: "5", Role: domain.RoleCustomer})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: token})
	w := httptest.NewRecorder()
	protectedRouter(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"sub":"5"}`, w.Body.String())
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	s := testSigner(t)
	token, err := s.SignAccess(security.AccessClaims{Subject: "9", Role: domain.RoleAdmin})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protectedRouter(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticate_Rejects(t *testing.T) {
	s := testSigner(t)
	refresh, err := s.SignRefresh(security.RefreshClaims{AccessClaims: security.AccessClaims{Subject: "1", Role: domain.RoleCustomer}, TokenID: "r"})
	require.NoError(t, err)

	cases := map[string]func(*http.Request){
		"missing":        func(*http.Request) {},
		"garbage cookie": func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookie, Value: "nope"}) },
		"refresh token":  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookie, Value: refresh}) },
		"basic auth":     func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
	}
	for name, prep := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			prep(req)
			w := httptest.NewRecorder()
			protectedRouter(s).ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)
			require.Equal(t, "UnauthorizedError", decodeErrors(t, w).Errors[0].Type)
		})
	}
}

func TestAuthenticate_ExpiredMessage(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	old, err := security.NewTestTokenSigner(security.WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	token, err := old.SignAccess(security.AccessClaims{Subject: "1", Role: domain.RoleCustomer})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: token})
	w := httptest.NewRecorder()
	protectedRouter(testSigner(t)).ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "token expired", decodeErrors(t, w).Errors[0].Msg)
}

func TestRequireRefresh(t *testing.T) {
	s := testSigner(t)
	r := gin.New()
	r.POST("/r", RequireRefresh(s), func(c *gin.Context) {
		claims, ok := RefreshClaims(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": claims.TokenID})
	})

	token, err := s.SignRefresh(security.RefreshClaims{AccessClaims: security.AccessClaims{Subject: "1", Role: domain.RoleCustomer}, TokenID: "rec-1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/r", nil)
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"id":"rec-1"}`, w.Body.String())

	access, err := s.SignAccess(security.AccessClaims{Subject: "1", Role: domain.RoleCustomer})
	require.NoError(t, err)
	for _, value := range []string{"", access} {
		req := httptest.NewRequest(http.MethodPost, "/r", nil)
		if value != "" {
			req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: value})
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	s := testSigner(t)
	r := protectedRouter(s, RequireRole(domain.RoleAdmin, domain.RoleManager))

	for role, want := range map[domain.Role]int{
		domain.RoleAdmin:    http.StatusOK,
		domain.RoleManager:  http.StatusOK,
		domain.RoleCustomer: http.StatusForbidden,
	} {
		token, err := s.SignAccess(security.AccessClaims{Subject: "1", Role: role})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.AddCookie(&http.Cookie{Name: AccessCookie, Value: token})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, want, w.Code, "role %s", role)
		if want == http.StatusForbidden {
			body := decodeErrors(t, w)
			require.Equal(t, "ForbiddenError", body.Errors[0].Type)
			require.Equal(t, "You don't have permission to perform this action.", body.Errors[0].Msg)
		}
	}
}

func TestRateLimiter_BlocksWhenExceeded(t *testing.T) {
	reg := prometheus.NewRegistry()
	lim := NewRateLimiter(0.5, 1, metrics.New(reg))
	r := gin.New()
	r.POST("/login", lim.Handler("login"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/register", lim.Handler("register"), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		return w.Code
	}
	require.Equal(t, http.StatusOK, do("/login"))
	require.Equal(t, http.StatusTooManyRequests, do("/login"))
	// Buckets are per route.
	require.Equal(t, http.StatusOK, do("/register"))

	require.Equal(t, 1, testutil.CollectAndCount(reg, "auth_rate_limit_rejected_total"))
}

func TestRateLimiter_PerClientIP(t *testing.T) {
	lim := NewRateLimiter(0.5, 1, nil)
	r := gin.New()
	r.POST("/login", lim.Handler("login"), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, addr)
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	lim := NewRateLimiter(0, 0, nil)
	r := gin.New()
	r.POST("/login", lim.Handler("login"), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lim := NewRateLimiter(0.5, 1, nil).WithIdle(time.Minute)
	lim.now = func() time.Time { return clock }
	r := gin.New()
	r.POST("/login", lim.Handler("login"), func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	buckets := func() int {
		n := 0
		lim.limiters.Range(func(_, _ any) bool { n++; return true })
		return n
	}

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusOK, send(fmt.Sprintf("10.1.0.%d:4000", i)))
	}
	require.Equal(t, 50, buckets())

	clock = clock.Add(2 * time.Minute)
	require.Equal(t, http.StatusOK, send("10.2.0.1:4000"))
	require.Equal(t, 1, buckets(), "idle buckets should be swept")
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(&buf, "debug", "json")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var seenIP string
	r := gin.New()
	r.Use(RequestLogger(log, m))
	r.GET("/x", func(c *gin.Context) {
		seenIP = ClientIP(c.Request.Context())
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "192.0.2.7:5000"
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "192.0.2.7", seenIP)
	require.Contains(t, buf.String(), `"route":"/x"`)
	require.Contains(t, buf.String(), `"status":418`)
	require.Equal(t, 1, testutil.CollectAndCount(reg, "auth_http_request_duration_seconds"))
}

func TestClientIP_Missing(t *testing.T) {
	require.Equal(t, "", ClientIP(context.Background()))
	require.True(t, strings.HasPrefix(errorType(http.StatusTeapot), "Internal"))
}
