package repository

import (
	"context"
	"errors"

	"tenant-auth-service/internal/principal/domain"
)

// ErrEmailTaken is returned by Create when another principal already uses the email.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for principals.
type Repository interface {
	// GetByID returns the principal for id, or nil if not found.
	GetByID(ctx context.Context, id int64) (*domain.Principal, error)
	// GetCredentialByEmail returns the principal and its password hash, or nil if not found.
	GetCredentialByEmail(ctx context.Context, email string) (*domain.Credential, error)
	// Create persists p with the given password hash and returns the assigned id.
	Create(ctx context.Context, p *domain.Principal, passwordHash string) (int64, error)
}
