package domain

import (
	"errors"
	"fmt"
	"time"
)

// Role is the closed set of roles a principal can hold. The zero value is not a valid role.
type Role uint8

const (
	RoleCustomer Role = iota + 1
	RoleManager
	RoleAdmin
)

// ErrUnknownRole is returned when a role string or value is outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

// String returns the wire form of the role ("customer", "manager", "admin"), or "" for an invalid role.
func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "customer"
	case RoleManager:
		return "manager"
	case RoleAdmin:
		return "admin"
	default:
		return ""
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r.String() != ""
}

// ParseRole converts the wire form back into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "customer":
		return RoleCustomer, nil
	case "manager":
		return RoleManager, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// MarshalText implements encoding.TextMarshaler so roles travel as strings in JSON and JWT claims.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Principal is an authenticated identity. It is immutable inside the session core.
type Principal struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Role      Role
	TenantID  *int64 // nil when the principal is not affiliated with a tenant
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential is a principal together with its stored password hash.
// Only the login lookup returns it.
type Credential struct {
	Principal
	PasswordHash string
}

// Validate validates the principal for persistence. Returns an error describing the first validation failure.
func (p *Principal) Validate() error {
	if p.Email == "" {
		return errors.New("email is required")
	}
	if p.FirstName == "" {
		return errors.New("first name is required")
	}
	if p.LastName == "" {
		return errors.New("last name is required")
	}
	if !p.Role.Valid() {
		return ErrUnknownRole
	}
	return nil
}
