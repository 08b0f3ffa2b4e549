package types

import "time"

// APIToken maps the SHA-256 digest of an opaque bearer secret to a user.
//
// The plaintext secret is returned to the client exactly once at issuance
// and is never persisted. Tokens have no expiry; they stay valid until
// explicitly revoked, and revocation is sticky (there is no un-revoke path).
type APIToken struct {
	// ID is the unique identifier of the token record.
	ID int64 `json:"id" db:"id"`

	// UserID is the identifier of the owning user. A user may hold any
	// number of live tokens at once.
	UserID int64 `json:"user_id" db:"user_id"`

	// TokenHash is the hex-encoded SHA-256 digest of the plaintext secret.
	// Lookups are performed strictly by this digest.
	TokenHash string `json:"-" db:"token_hash"`

	// Revoked marks the token as dead. Revoked tokens are never matched
	// during identity resolution and are never deleted, only flagged.
	Revoked bool `json:"revoked" db:"revoked"`

	// CreatedAt is the timestamp when the token was issued.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
