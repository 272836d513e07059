package models

import (
	"time"

	"github.com/google/uuid"
)

type ApiKeyStatus string

const (
	ApiKeyActive  ApiKeyStatus = "active"
	ApiKeyRevoked ApiKeyStatus = "revoked"
	ApiKeyExpired ApiKeyStatus = "expired"
)

// ApiKey is a webhook ingestion credential. Only the SHA-256 hash of the
// full key is stored; the prefix is public and indexed for lookup.
type ApiKey struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	UserID     uuid.UUID  `json:"user_id" db:"user_id"`
	Prefix     string     `json:"key_prefix" db:"key_prefix"`
	KeyHash    string     `json:"-" db:"key_hash"`
	Name       string     `json:"name" db:"name"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at" db:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at" db:"last_used_at"` // Pointer to handle NULL
}

// Status reports the effective state of the key at now.
func (k *ApiKey) Status(now time.Time) ApiKeyStatus {
	if k.RevokedAt != nil {
		return ApiKeyRevoked
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return ApiKeyExpired
	}
	return ApiKeyActive
}

// Valid reports whether the key may authenticate a request at now.
func (k *ApiKey) Valid(now time.Time) bool {
	return k.Status(now) == ApiKeyActive
}
