package model

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a long-lived service credential. Only the argon2 hash is stored;
// the plaintext key is shown once at creation.
type APIKey struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	// Prefix is the first characters of the plaintext key, stored for an
	// indexed pre-filter before the argon2 comparison.
	Prefix     string     `json:"prefix"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}
