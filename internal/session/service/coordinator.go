package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tenant-auth-service/internal/audit"
	"tenant-auth-service/internal/logging"
	"tenant-auth-service/internal/metrics"
	"tenant-auth-service/internal/principal/domain"
	principalrepo "tenant-auth-service/internal/principal/repository"
	refreshdomain "tenant-auth-service/internal/refreshtoken/domain"
	refreshrepo "tenant-auth-service/internal/refreshtoken/repository"
	"tenant-auth-service/internal/security"
)

// Sentinel errors for the session coordinator; the HTTP handler maps them to status codes.
var (
	ErrInvalidCredentials  = errors.New("email or password does not match")
	ErrDuplicateCredential = errors.New("email is already registered")
	ErrPrincipalNotFound   = errors.New("principal with the provided token does not exist")
	// ErrRefreshTokenRevoked means the presented refresh token's record is gone (logged out or rotated).
	ErrRefreshTokenRevoked = fmt.Errorf("%w: refresh token revoked", ErrPrincipalNotFound)
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	opRegister = "register"
	opLogin    = "login"
	opRefresh  = "refresh"
	opLogout   = "logout"
)

// TokenPair is the pair of opaque tokens the transport layer hands back to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}

// AuthResult is the outcome of Register, Login and Refresh.
type AuthResult struct {
	PrincipalID int64
	Role        domain.Role
	Tokens      TokenPair
}

// RegisterInput carries the fields of a new customer account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	TenantID  *int64
}

// PrincipalRepo is the minimal principal repository needed by the coordinator.
type PrincipalRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.Principal, error)
	GetCredentialByEmail(ctx context.Context, email string) (*domain.Credential, error)
	Create(ctx context.Context, p *domain.Principal, passwordHash string) (int64, error)
}

// Coordinator implements register, login, refresh and logout over the credential
// verifier, refresh token store and token signer. It holds no per-request state.
type Coordinator struct {
	principals   PrincipalRepo
	store        refreshrepo.Store
	hasher       *security.Hasher
	tokens       *security.TokenSigner
	audit        audit.AuditLogger
	metrics      *metrics.Metrics
	log          logging.Logger
	storeTimeout time.Duration
	rotateInTx   bool
	now          func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAudit sets the audit logger.
func WithAudit(a audit.AuditLogger) Option { return func(c *Coordinator) { c.audit = a } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithLogger sets the structured logger.
func WithLogger(l logging.Logger) Option { return func(c *Coordinator) { c.log = l } }

// WithStoreTimeout bounds every storage call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option { return func(c *Coordinator) { c.storeTimeout = d } }

// WithRotationInTx runs refresh rotation inside one transaction when the store supports it.
func WithRotationInTx(enabled bool) Option { return func(c *Coordinator) { c.rotateInTx = enabled } }

// NewCoordinator returns a Coordinator with the given dependencies.
func NewCoordinator(principals PrincipalRepo, store refreshrepo.Store, hasher *security.Hasher, tokens *security.TokenSigner, opts ...Option) *Coordinator {
	c := &Coordinator{
		principals: principals,
		store:      store,
		hasher:     hasher,
		tokens:     tokens,
		log:        logging.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.audit == nil {
		c.audit = audit.NewLogger(nil, nil, nil)
	}
	return c
}

// Register creates a CUSTOMER principal and issues its first token pair.
func (c *Coordinator) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateRegister(in); err != nil {
		c.metrics.Rejected(opRegister, "invalid_input")
		return nil, err
	}

	var existing *domain.Credential
	err := c.withTimeout(ctx, func(ctx context.Context) (err error) {
		existing, err = c.principals.GetCredentialByEmail(ctx, in.Email)
		return err
	})
	if err != nil {
		return nil, c.fail(ctx, opRegister, persistence(err))
	}
	if existing != nil {
		c.metrics.Rejected(opRegister, "duplicate")
		return nil, ErrDuplicateCredential
	}

	hash, err := c.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, c.fail(ctx, opRegister, fmt.Errorf("hash password: %w", err))
	}
	p := &domain.Principal{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Role:      domain.RoleCustomer,
		TenantID:  in.TenantID,
	}
	err = c.withTimeout(ctx, func(ctx context.Context) (err error) {
		p.ID, err = c.principals.Create(ctx, p, hash)
		return err
	})
	if err != nil {
		if errors.Is(err, principalrepo.ErrEmailTaken) {
			c.metrics.Rejected(opRegister, "duplicate")
			return nil, ErrDuplicateCredential
		}
		return nil, c.fail(ctx, opRegister, persistence(err))
	}

	pair, _, err := c.issuePair(ctx, c.store, p)
	if err != nil {
		return nil, c.fail(ctx, opRegister, err)
	}
	c.succeed(ctx, opRegister, audit.ActionRegister, p)
	return &AuthResult{PrincipalID: p.ID, Role: p.Role, Tokens: pair}, nil
}

// Login verifies email and password and issues a token pair. An unknown email and a
// wrong password both yield ErrInvalidCredentials and cost one bcrypt comparison.
func (c *Coordinator) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	var cred *domain.Credential
	if email != "" {
		err := c.withTimeout(ctx, func(ctx context.Context) (err error) {
			cred, err = c.principals.GetCredentialByEmail(ctx, email)
			return err
		})
		if err != nil {
			return nil, c.fail(ctx, opLogin, persistence(err))
		}
	}
	if cred == nil {
		c.hasher.CompareDummy([]byte(password))
		return nil, c.reject(ctx, opLogin, audit.Event{Action: audit.ActionLoginFailure, Reason: "unknown_principal"}, ErrInvalidCredentials)
	}
	ok, err := c.hasher.Compare(cred.PasswordHash, []byte(password))
	if err != nil {
		return nil, c.fail(ctx, opLogin, fmt.Errorf("principal %d: %w", cred.ID, err))
	}
	if !ok {
		return nil, c.reject(ctx, opLogin, audit.Event{Action: audit.ActionLoginFailure, PrincipalID: cred.ID, TenantID: cred.TenantID, Reason: "password_mismatch"}, ErrInvalidCredentials)
	}

	p := &cred.Principal
	pair, _, err := c.issuePair(ctx, c.store, p)
	if err != nil {
		return nil, c.fail(ctx, opLogin, err)
	}
	c.succeed(ctx, opLogin, audit.ActionLogin, p)
	return &AuthResult{PrincipalID: p.ID, Role: p.Role, Tokens: pair}, nil
}

// Refresh rotates the refresh record referenced by claims. claims must come from a
// verified refresh token. The new record is created and embedded in the new refresh
// token before the old record is deleted, so a failure in between leaves two valid
// records rather than none. When two calls race on one token only the first to
// delete the old record keeps its new pair; the other gets ErrRefreshTokenRevoked.
func (c *Coordinator) Refresh(ctx context.Context, claims security.RefreshClaims) (*AuthResult, error) {
	principalID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.TokenID == "" {
		return nil, c.reject(ctx, opRefresh, audit.Event{Action: audit.ActionRefreshFailure, Reason: "invalid_claims"}, security.ErrTokenInvalid)
	}

	var old *refreshdomain.Record
	err = c.withTimeout(ctx, func(ctx context.Context) (err error) {
		old, err = c.store.FindByID(ctx, claims.TokenID)
		return err
	})
	if err != nil {
		return nil, c.fail(ctx, opRefresh, persistence(err))
	}
	if old == nil {
		return nil, c.reject(ctx, opRefresh, audit.Event{Action: audit.ActionRefreshFailure, PrincipalID: principalID, Reason: "revoked"}, ErrRefreshTokenRevoked)
	}
	if old.Expired(c.now()) {
		c.discard(ctx, c.store, old.ID)
		return nil, c.reject(ctx, opRefresh, audit.Event{Action: audit.ActionRefreshFailure, PrincipalID: principalID, Reason: "record_expired"}, security.ErrTokenExpired)
	}
	if old.PrincipalID != principalID {
		c.log.Warn(ctx, "refresh token bound to another principal", "principal_id", principalID, "record_principal_id", old.PrincipalID)
		return nil, c.reject(ctx, opRefresh, audit.Event{Action: audit.ActionRefreshFailure, PrincipalID: principalID, Reason: "principal_mismatch"}, security.ErrTokenInvalid)
	}

	var p *domain.Principal
	err = c.withTimeout(ctx, func(ctx context.Context) (err error) {
		p, err = c.principals.GetByID(ctx, principalID)
		return err
	})
	if err != nil {
		return nil, c.fail(ctx, opRefresh, persistence(err))
	}
	if p == nil {
		return nil, c.reject(ctx, opRefresh, audit.Event{Action: audit.ActionRefreshFailure, PrincipalID: principalID, Reason: "principal_not_found"}, ErrPrincipalNotFound)
	}

	var pair TokenPair
	rotate := func(ctx context.Context, store refreshrepo.Store) error {
		issued, newID, err := c.issuePair(ctx, store, p)
		if err != nil {
			return err
		}
		var consumed bool
		err = c.withTimeout(ctx, func(ctx context.Context) (err error) {
			consumed, err = consume(ctx, store, old.ID)
			return err
		})
		if err != nil {
			c.discard(ctx, store, newID)
			return persistence(err)
		}
		if !consumed {
			// A concurrent refresh with the same token rotated it first.
			c.discard(ctx, store, newID)
			return ErrRefreshTokenRevoked
		}
		pair = issued
		return nil
	}
	if tx, ok := c.store.(refreshrepo.Transactor); ok && c.rotateInTx {
		err = tx.InTx(ctx, rotate)
	} else {
		err = rotate(ctx, c.store)
	}
	if errors.Is(err, ErrRefreshTokenRevoked) {
		return nil, c.reject(ctx, opRefresh, audit.Event{Action: audit.ActionRefreshFailure, PrincipalID: principalID, Reason: "concurrent_rotation"}, err)
	}
	if err != nil {
		return nil, c.fail(ctx, opRefresh, err)
	}
	c.succeed(ctx, opRefresh, audit.ActionRefresh, p)
	return &AuthResult{PrincipalID: p.ID, Role: p.Role, Tokens: pair}, nil
}

// Logout deletes the refresh record referenced by tokenID. Repeating it is not an error.
func (c *Coordinator) Logout(ctx context.Context, principalID int64, tokenID string) error {
	if tokenID != "" {
		err := c.withTimeout(ctx, func(ctx context.Context) error { return c.store.DeleteByID(ctx, tokenID) })
		if err != nil {
			return c.fail(ctx, opLogout, persistence(err))
		}
	}
	c.metrics.Success(opLogout)
	c.audit.LogEvent(ctx, audit.Event{Action: audit.ActionLogout, PrincipalID: principalID})
	return nil
}

// Self returns the principal's profile.
func (c *Coordinator) Self(ctx context.Context, principalID int64) (*domain.Principal, error) {
	var p *domain.Principal
	err := c.withTimeout(ctx, func(ctx context.Context) (err error) {
		p, err = c.principals.GetByID(ctx, principalID)
		return err
	})
	if err != nil {
		return nil, persistence(err)
	}
	if p == nil {
		return nil, ErrPrincipalNotFound
	}
	return p, nil
}

// issuePair creates a refresh record in store, then signs the access token and a
// refresh token bound to the new record. It returns the new record id.
func (c *Coordinator) issuePair(ctx context.Context, store refreshrepo.Store, p *domain.Principal) (TokenPair, string, error) {
	var rec *refreshdomain.Record
	err := c.withTimeout(ctx, func(ctx context.Context) (err error) {
		rec, err = store.Create(ctx, p.ID)
		return err
	})
	if err != nil {
		return TokenPair{}, "", persistence(err)
	}
	claims := security.AccessClaims{Subject: strconv.FormatInt(p.ID, 10), Role: p.Role}
	access, err := c.tokens.SignAccess(claims)
	if err != nil {
		c.discard(ctx, store, rec.ID)
		return TokenPair{}, "", fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := c.tokens.SignRefresh(security.RefreshClaims{AccessClaims: claims, TokenID: rec.ID})
	if err != nil {
		c.discard(ctx, store, rec.ID)
		return TokenPair{}, "", fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresIn:  c.tokens.AccessTTL(),
		RefreshExpiresIn: c.tokens.RefreshTTL(),
	}, rec.ID, nil
}

// consume deletes the record with id and reports whether it was still present.
// Stores without Consumer support are assumed to have removed it.
func consume(ctx context.Context, store refreshrepo.Store, id string) (bool, error) {
	if cs, ok := store.(refreshrepo.Consumer); ok {
		return cs.ConsumeByID(ctx, id)
	}
	return true, store.DeleteByID(ctx, id)
}

// discard removes a record that will never be handed out. Best effort.
func (c *Coordinator) discard(ctx context.Context, store refreshrepo.Store, id string) {
	if err := c.withTimeout(ctx, func(ctx context.Context) error { return store.DeleteByID(ctx, id) }); err != nil {
		c.log.Warn(ctx, "discard unissued refresh record", "record_id", id, "error", err)
	}
}

func (c *Coordinator) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.storeTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return fn(ctx)
}

func (c *Coordinator) succeed(ctx context.Context, op, action string, p *domain.Principal) {
	c.metrics.Success(op)
	c.audit.LogEvent(ctx, audit.Event{Action: action, PrincipalID: p.ID, TenantID: p.TenantID})
	c.log.Info(ctx, "session "+op, "principal_id", p.ID)
}

func (c *Coordinator) reject(ctx context.Context, op string, e audit.Event, err error) error {
	c.metrics.Rejected(op, e.Reason)
	c.audit.LogEvent(ctx, e)
	return err
}

func (c *Coordinator) fail(ctx context.Context, op string, err error) error {
	c.metrics.Rejected(op, "internal")
	c.log.Error(ctx, "session "+op+" failed", "error", err)
	return err
}

// persistence classifies err as a storage failure unless it already is one.
func persistence(err error) error {
	if errors.Is(err, refreshrepo.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", refreshrepo.ErrPersistence, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// bcrypt rejects longer inputs.
const maxPasswordBytes = 72

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateRegister(in RegisterInput) error {
	switch {
	case in.Email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	case !emailPattern.MatchString(in.Email):
		return fmt.Errorf("%w: email should be a valid email", ErrInvalidInput)
	case in.FirstName == "":
		return fmt.Errorf("%w: first name is required", ErrInvalidInput)
	case in.LastName == "":
		return fmt.Errorf("%w: last name is required", ErrInvalidInput)
	case in.Password == "":
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	case len(in.Password) > maxPasswordBytes:
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}
