package domain

import "time"

// Record is one persisted refresh-token issuance. Its ID is embedded in the
// refresh token as the "id" claim and resolves back to at most one record.
type Record struct {
	ID          string    `json:"id"`
	PrincipalID int64     `json:"principal_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the record is past its expiry at now. Expired records
// are not purged by the store; callers decide whether to honour them.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
