package security

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tenant-auth-service/internal/principal/domain"
)

// Algorithm names the signing context a token is expected to carry.
type Algorithm string

const (
	// AlgRS256 is used for access tokens, verifiable with the public key.
	AlgRS256 Algorithm = "RS256"
	// AlgHS256 is used for refresh tokens, verifiable only by this service.
	AlgHS256 Algorithm = "HS256"
)

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	Subject string
	Role    domain.Role
}

// RefreshClaims are the access claims plus the id of the refresh record the token is bound to.
type RefreshClaims struct {
	AccessClaims
	TokenID string
}

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	Role      domain.Role
	TokenID   string // empty for access tokens
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PrincipalID parses the subject back into a principal id.
func (c *Claims) PrincipalID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}
	return id, nil
}

// Refresh returns the claims as RefreshClaims, as consumed by the session coordinator.
func (c *Claims) Refresh() RefreshClaims {
	return RefreshClaims{AccessClaims: AccessClaims{Subject: c.Subject, Role: c.Role}, TokenID: c.TokenID}
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role    domain.Role `json:"role"`
	TokenID string      `json:"id,omitempty"`
}

// TokenSigner issues and verifies access (RS256) and refresh (HS256) tokens.
// It holds only immutable state and is safe for concurrent use.
type TokenSigner struct {
	keys          *KeyProvider
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// SignerOption configures a TokenSigner.
type SignerOption func(*TokenSigner)

// WithClock replaces the signer's time source for both signing and verification.
func WithClock(now func() time.Time) SignerOption {
	return func(s *TokenSigner) { s.now = now }
}

// NewTokenSigner returns a TokenSigner. refreshSecret must be non-empty; keys must hold an RSA pair.
func NewTokenSigner(keys *KeyProvider, refreshSecret []byte, issuer string, accessTTL, refreshTTL time.Duration, opts ...SignerOption) (*TokenSigner, error) {
	if keys == nil {
		return nil, &ConfigurationError{Field: "JWT_PRIVATE_KEY", Err: ErrInvalidKey}
	}
	if len(refreshSecret) == 0 {
		return nil, &ConfigurationError{Field: "REFRESH_TOKEN_SECRET", Err: errors.New("empty secret")}
	}
	secret := make([]byte, len(refreshSecret))
	copy(secret, refreshSecret)
	s := &TokenSigner{
		keys:          keys,
		refreshSecret: secret,
		issuer:        issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (s *TokenSigner) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (s *TokenSigner) RefreshTTL() time.Duration { return s.refreshTTL }

// SignAccess signs an RS256 access token for the given claims.
func (s *TokenSigner) SignAccess(c AccessClaims) (string, error) {
	claims, err := s.claims(c, "", s.accessTTL)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.keys.PrivateKey())
}

// SignRefresh signs an HS256 refresh token bound to c.TokenID.
func (s *TokenSigner) SignRefresh(c RefreshClaims) (string, error) {
	if c.TokenID == "" {
		return "", ErrTokenInvalid
	}
	claims, err := s.claims(c.AccessClaims, c.TokenID, s.refreshTTL)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
}

func (s *TokenSigner) claims(c AccessClaims, tokenID string, ttl time.Duration) (jwtClaims, error) {
	if c.Subject == "" || !c.Role.Valid() {
		return jwtClaims{}, ErrTokenInvalid
	}
	now := s.now().UTC()
	return jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:    c.Role,
		TokenID: tokenID,
	}, nil
}

// Verify parses token and checks it was signed with alg by this service.
// Errors are ErrTokenMalformed, ErrTokenExpired or ErrTokenInvalid.
func (s *TokenSigner) Verify(token string, alg Algorithm) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMalformed
	}
	var key any
	switch alg {
	case AlgRS256:
		key = s.keys.PublicKey()
	case AlgHS256:
		key = s.refreshSecret
	default:
		return nil, ErrTokenInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{string(alg)}),
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	var claims jwtClaims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenInvalid
		}
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}
	if alg == AlgHS256 && claims.TokenID == "" {
		return nil, ErrTokenInvalid
	}
	out := &Claims{
		Subject: claims.Subject,
		Role:    claims.Role,
		TokenID: claims.TokenID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// VerifyAccess verifies an RS256 access token.
func (s *TokenSigner) VerifyAccess(token string) (*Claims, error) {
	return s.Verify(token, AlgRS256)
}

// VerifyRefresh verifies an HS256 refresh token and requires a token id.
func (s *TokenSigner) VerifyRefresh(token string) (*Claims, error) {
	return s.Verify(token, AlgHS256)
}
