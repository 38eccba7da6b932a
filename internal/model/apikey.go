package model

import "time"

// APIKey is the stored form of an issued key: a one-way hash plus a short
// display prefix. The raw secret is returned to the caller exactly once at
// issuance and never persisted.
type APIKey struct {
	ID         string     `db:"id"` // key_<ULID>
	TenantID   string     `db:"tenant_id"`
	TenantKind TenantKind `db:"tenant_kind"` // merchant | agent
	Hash       string     `db:"key_hash"`    // sha256 hex of the raw secret
	Prefix     string     `db:"key_prefix"`  // first chars of the secret, for display
	CreatedAt  time.Time  `db:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at"` // monotonic: never cleared
	LastUsedAt *time.Time `db:"last_used_at"`
}

// Revoked reports whether the key has been logically destroyed.
func (k APIKey) Revoked() bool { return k.RevokedAt != nil }
