package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tenant-auth-service/internal/db"
	"tenant-auth-service/internal/principal/domain"
)

const uniqueViolation = "23505"

// PostgresRepository reads and creates principals in the users table.
type PostgresRepository struct {
	q   db.DBTX
	now func() time.Time
}

// NewPostgresRepository returns a principal repository that uses the given db for persistence.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{q: q, now: time.Now}
}

const principalColumns = `id, first_name, last_name, email, role, tenant_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row scanner, extra ...any) (*domain.Principal, error) {
	var (
		p        domain.Principal
		role     string
		tenantID sql.NullInt64
	)
	dest := append([]any{&p.ID, &p.FirstName, &p.LastName, &p.Email, &role, &tenantID, &p.CreatedAt, &p.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r, err := domain.ParseRole(role)
	if err != nil {
		return nil, err
	}
	p.Role = r
	if tenantID.Valid {
		id := tenantID.Int64
		p.TenantID = &id
	}
	return &p, nil
}

// GetByID returns the principal for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Principal, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM users WHERE id = $1`, id)
	p, err := scanPrincipal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get principal %d: %w", id, err)
	}
	return p, nil
}

// GetCredentialByEmail returns the principal with its stored hash, or nil if not found.
func (r *PostgresRepository) GetCredentialByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+principalColumns+`, password_hash FROM users WHERE email = $1`, email)
	var hash string
	p, err := scanPrincipal(row, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &domain.Credential{Principal: *p, PasswordHash: hash}, nil
}

// Create inserts the principal and returns its id. A duplicate email yields ErrEmailTaken.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Principal, passwordHash string) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	now := r.now().UTC()
	var tenantID sql.NullInt64
	if p.TenantID != nil {
		tenantID = sql.NullInt64{Int64: *p.TenantID, Valid: true}
	}
	const query = `INSERT INTO users (first_name, last_name, email, password_hash, role, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`
	var id int64
	err := r.q.QueryRowContext(ctx, query, p.FirstName, p.LastName, p.Email, passwordHash, p.Role.String(), tenantID, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrEmailTaken
		}
		return 0, fmt.Errorf("create principal: %w", err)
	}
	return id, nil
}
