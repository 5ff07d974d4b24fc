package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tenant-auth-service/internal/db"
	"tenant-auth-service/internal/refreshtoken/domain"
)

// PostgresStore persists refresh token records in the refresh_tokens table.
type PostgresStore struct {
	conn *sql.DB
	q    db.DBTX
	ttl  time.Duration
	now  func() time.Time
}

// NewPostgresStore returns a store backed by conn. Records expire ttl after creation.
func NewPostgresStore(conn *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{conn: conn, q: conn, ttl: ttl, now: time.Now}
}

// Create inserts a record with a new UUID v4 id.
func (s *PostgresStore) Create(ctx context.Context, principalID int64) (*domain.Record, error) {
	now := s.now().UTC()
	rec := &domain.Record{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	const query = `INSERT INTO refresh_tokens (id, principal_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.q.ExecContext(ctx, query, rec.ID, rec.PrincipalID, rec.ExpiresAt, rec.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: create: %v", ErrPersistence, err)
	}
	return rec, nil
}

// DeleteByID deletes the record with id. Ids that are absent or not UUIDs are a no-op.
func (s *PostgresStore) DeleteByID(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrPersistence, err)
	}
	return nil
}

// ConsumeByID deletes the record with id and reports whether a row was removed.
// Concurrent callers for the same id see true at most once.
func (s *PostgresStore) ConsumeByID(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("%w: consume: %v", ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: consume: %v", ErrPersistence, err)
	}
	return n > 0, nil
}

// FindByID returns the record for id, or nil if not found.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*domain.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	const query = `SELECT id, principal_id, expires_at, created_at FROM refresh_tokens WHERE id = $1`
	var rec domain.Record
	err := s.q.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.PrincipalID, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find: %v", ErrPersistence, err)
	}
	return &rec, nil
}

// InTx runs fn against a store bound to a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	var fnErr error
	err := db.WithTx(ctx, s.conn, func(ctx context.Context, tx db.DBTX) error {
		fnErr = fn(ctx, &PostgresStore{conn: s.conn, q: tx, ttl: s.ttl, now: s.now})
		return fnErr
	})
	if err != nil {
		if fnErr != nil {
			return fnErr
		}
		return fmt.Errorf("%w: transaction: %v", ErrPersistence, err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}
