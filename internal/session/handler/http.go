// Package handler exposes the session coordinator over HTTP with cookie-carried tokens.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tenant-auth-service/internal/logging"
	"tenant-auth-service/internal/principal/domain"
	refreshrepo "tenant-auth-service/internal/refreshtoken/repository"
	"tenant-auth-service/internal/security"
	"tenant-auth-service/internal/server/middleware"
	"tenant-auth-service/internal/session/service"
)

// Coordinator is the session API the handler drives; *service.Coordinator implements it.
type Coordinator interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Refresh(ctx context.Context, claims security.RefreshClaims) (*service.AuthResult, error)
	Logout(ctx context.Context, principalID int64, tokenID string) error
	Self(ctx context.Context, principalID int64) (*domain.Principal, error)
}

// CookieConfig controls the attributes of the token cookies.
type CookieConfig struct {
	Domain string
	Secure bool
}

// Handler serves the /auth routes.
type Handler struct {
	sessions  Coordinator
	tokens    middleware.TokenVerifier
	publicKey []byte
	cookies   CookieConfig
	limiter   *middleware.RateLimiter
	log       logging.Logger
}

// Config groups the handler's dependencies.
type Config struct {
	Sessions Coordinator
	Tokens   middleware.TokenVerifier
	// PublicKeyPEM is served by GET /auth/public-key so other services can verify access tokens.
	PublicKeyPEM []byte
	Cookies      CookieConfig
	// Limiter guards register and login. Nil disables limiting.
	Limiter *middleware.RateLimiter
	Log     logging.Logger
}

// New returns a Handler.
func New(cfg Config) *Handler {
	h := &Handler{
		sessions:  cfg.Sessions,
		tokens:    cfg.Tokens,
		publicKey: cfg.PublicKeyPEM,
		cookies:   cfg.Cookies,
		limiter:   cfg.Limiter,
		log:       cfg.Log,
	}
	if h.limiter == nil {
		h.limiter = middleware.NewRateLimiter(0, 0, nil)
	}
	if h.log == nil {
		h.log = logging.Nop()
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/auth")
	g.POST("/register", h.limiter.Handler("register"), h.register)
	g.POST("/login", h.limiter.Handler("login"), h.login)
	g.GET("/self", middleware.Authenticate(h.tokens), h.self)
	g.POST("/refresh", middleware.RequireRefresh(h.tokens), h.refresh)
	g.POST("/logout", middleware.Authenticate(h.tokens), middleware.RequireRefresh(h.tokens), h.logout)
	g.GET("/public-key", h.publicKeyPEM)
}

type registerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

type principalResponse struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	TenantID  *int64    `json:"tenantId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	res, err := h.sessions.Register(c.Request.Context(), service.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setTokenCookies(c, res.Tokens)
	c.JSON(http.StatusCreated, idResponse{ID: res.PrincipalID})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if items := validateLogin(req); len(items) > 0 {
		middleware.AbortWithItems(c, http.StatusBadRequest, items)
		return
	}
	res, err := h.sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setTokenCookies(c, res.Tokens)
	c.JSON(http.StatusOK, idResponse{ID: res.PrincipalID})
}

func (h *Handler) self(c *gin.Context) {
	claims, _ := middleware.AccessClaims(c)
	id, err := claims.PrincipalID()
	if err != nil {
		h.writeError(c, err)
		return
	}
	p, err := h.sessions.Self(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, principalResponse{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Role:      p.Role.String(),
		TenantID:  p.TenantID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	})
}

func (h *Handler) refresh(c *gin.Context) {
	claims, _ := middleware.RefreshClaims(c)
	res, err := h.sessions.Refresh(c.Request.Context(), claims.Refresh())
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setTokenCookies(c, res.Tokens)
	c.JSON(http.StatusOK, idResponse{ID: res.PrincipalID})
}

func (h *Handler) logout(c *gin.Context) {
	access, _ := middleware.AccessClaims(c)
	refresh, _ := middleware.RefreshClaims(c)
	id, err := access.PrincipalID()
	if err != nil {
		h.writeError(c, err)
		return
	}
	if refresh.Subject != access.Subject {
		h.writeError(c, security.ErrTokenInvalid)
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), id, refresh.TokenID); err != nil {
		h.writeError(c, err)
		return
	}
	h.clearTokenCookies(c)
	c.JSON(http.StatusOK, gin.H{})
}

func (h *Handler) publicKeyPEM(c *gin.Context) {
	if len(h.publicKey) == 0 {
		middleware.Abort(c, http.StatusNotFound, "public key not configured")
		return
	}
	c.Data(http.StatusOK, "application/x-pem-file", h.publicKey)
}

func (h *Handler) setTokenCookies(c *gin.Context, t service.TokenPair) {
	h.setCookie(c, middleware.AccessCookie, t.AccessToken, int(t.AccessExpiresIn/time.Second))
	h.setCookie(c, middleware.RefreshCookie, t.RefreshToken, int(t.RefreshExpiresIn/time.Second))
}

func (h *Handler) clearTokenCookies(c *gin.Context) {
	h.setCookie(c, middleware.AccessCookie, "", -1)
	h.setCookie(c, middleware.RefreshCookie, "", -1)
}

func (h *Handler) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(name, value, maxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
}

// writeError maps coordinator and token errors to a status code and error body.
func (h *Handler) writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		middleware.Abort(c, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, service.ErrDuplicateCredential):
		middleware.Abort(c, http.StatusBadRequest, "Email is already exists!")
	case errors.Is(err, service.ErrInvalidCredentials):
		middleware.Abort(c, http.StatusBadRequest, "Email or password does not match.")
	case errors.Is(err, service.ErrPrincipalNotFound):
		middleware.Abort(c, http.StatusBadRequest, "User with the provided token does not exists.")
	case errors.Is(err, security.ErrTokenExpired):
		middleware.Abort(c, http.StatusUnauthorized, "token expired")
	case errors.Is(err, security.ErrTokenInvalid), errors.Is(err, security.ErrTokenMalformed):
		middleware.Abort(c, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, refreshrepo.ErrPersistence):
		h.log.Error(ctx, "session storage failure", "route", c.FullPath(), "error", err)
		middleware.Abort(c, http.StatusInternalServerError, "Internal server error")
	default:
		h.log.Error(ctx, "session request failed", "route", c.FullPath(), "error", err)
		middleware.Abort(c, http.StatusInternalServerError, "Internal server error")
	}
}

// validationMessage strips the sentinel prefix so the client sees only the field message.
func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, service.ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(service.ErrInvalidInput.Error())+2:]
	}
	return msg
}

func validateLogin(req loginRequest) []middleware.ErrorItem {
	var items []middleware.ErrorItem
	add := func(path, msg string) {
		items = append(items, middleware.ErrorItem{Type: "field", Msg: msg, Path: path, Location: "body"})
	}
	email := strings.TrimSpace(req.Email)
	switch {
	case email == "":
		add("email", "Email is required!")
	case !strings.Contains(email, "@"):
		add("email", "Email should be a valid email")
	}
	if req.Password == "" {
		add("password", "Password is required!")
	}
	return items
}
