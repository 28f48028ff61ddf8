package db

import (
	"time"
)

type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "granted"
	ConsentRevoked ConsentStatus = "revoked"

	ConsentTypeDataAccess = "data_access"
)

// Relationship links a guardian to a dependent. Owned by the school
// information system; read-only here.
type Relationship struct {
	ParentID  string    `json:"parent_id" db:"parent_id"`
	ChildID   string    `json:"child_id" db:"child_id"`
	Relation  string    `json:"relation" db:"relation"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ConsentRecord is unique per (parent, child, consent type). Revocation
// flips Status and keeps the row.
type ConsentRecord struct {
	ID          string        `json:"id" db:"id"`
	ParentID    string        `json:"parent_id" db:"parent_id"`
	ChildID     string        `json:"child_id" db:"child_id"`
	ConsentType string        `json:"consent_type" db:"consent_type"`
	Status      ConsentStatus `json:"status" db:"status"`
	GrantedAt   *time.Time    `json:"granted_at,omitempty" db:"granted_at"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty" db:"revoked_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// Active reports granted and not yet expired at now.
func (c *ConsentRecord) Active(now time.Time) bool {
	if c.Status != ConsentGranted {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

// UserDevice binds a user to a device fingerprint hash. Rows are never
// deleted; revocation clears IsTrusted.
type UserDevice struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	DeviceHash  string     `json:"device_hash" db:"device_hash"`
	Platform    string     `json:"platform" db:"platform"`
	Browser     string     `json:"browser" db:"browser"`
	DeviceType  string     `json:"device_type" db:"device_type"`
	LastIP      string     `json:"last_ip" db:"last_ip"`
	IsTrusted   bool       `json:"is_trusted" db:"is_trusted"`
	FirstSeenAt time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at" db:"last_seen_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}
