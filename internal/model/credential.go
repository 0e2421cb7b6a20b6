package model

import "time"

// Credential is one issued API key. The plaintext secret is never stored;
// only a SHA-256 digest and a short prefix for indexed lookup are persisted.
type Credential struct {
	ID         string     `db:"id"` // ULID
	TenantID   int64      `db:"tenant_id"`
	Prefix     string     `db:"prefix"`
	SecretHash string     `db:"secret_hash"`
	Name       string     `db:"name"`
	CreatedAt  time.Time  `db:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at"`   // set => must never authenticate
	LastUsedAt *time.Time `db:"last_used_at"` // best-effort, updated async
}

// Revoked reports whether the credential has been revoked.
func (c *Credential) Revoked() bool { return c.RevokedAt != nil }
