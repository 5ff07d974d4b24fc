package repository

import (
	"context"
	"errors"

	"tenant-auth-service/internal/refreshtoken/domain"
)

// ErrPersistence wraps every backend failure of a refresh token store.
var ErrPersistence = errors.New("refresh token store failure")

// Store persists refresh token records. Implementations must be safe for concurrent use.
type Store interface {
	// Create writes a new record for principalID with a fresh unique id and
	// expiry now + TTL. It either fully succeeds or returns an error wrapping ErrPersistence.
	Create(ctx context.Context, principalID int64) (*domain.Record, error)
	// DeleteByID removes the record. Deleting an absent id is not an error.
	DeleteByID(ctx context.Context, id string) error
	// FindByID returns the record for id, or nil if not found.
	// It returns an error only for backend failures, not for missing records.
	FindByID(ctx context.Context, id string) (*domain.Record, error)
}

// Transactor is implemented by stores that can run several operations atomically.
// fn receives a Store bound to the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// Consumer is implemented by stores that can delete a record and report whether it
// was still present. Rotation uses it so that one refresh token has at most one successor.
type Consumer interface {
	ConsumeByID(ctx context.Context, id string) (bool, error)
}
