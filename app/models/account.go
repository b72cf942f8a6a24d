package models

import (
	"strings"
	"time"
)

const (
	AccountKindPaid  = "paid"
	AccountKindTrial = "trial"

	AccountStatusActive  = "active"
	AccountStatusExpired = "expired"
	AccountStatusRevoked = "revoked"
)

const (
	SecretMinLen = 3
	SecretMaxLen = 32
)

// Account is one provisioned credential. While the account is active,
// ActiveSecret mirrors Secret and carries a unique index; it is cleared on
// expiry/revocation so the same secret may be re-issued later. Terminal
// statuses are never reactivated, a renewal only ever moves ExpiresAt of an
// active row.
type Account struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	PublicID     string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"public_id"`
	UserID       uint       `gorm:"index;not null" json:"user_id"`
	TargetCode   string     `gorm:"type:varchar(32);index;not null" json:"target_code"`
	Host         string     `gorm:"type:varchar(255)" json:"host"`
	Secret       string     `gorm:"type:varchar(32);not null" json:"secret"`
	ActiveSecret *string    `gorm:"type:varchar(32);uniqueIndex" json:"-"`
	Kind         string     `gorm:"type:varchar(16);not null" json:"kind"`
	Status       string     `gorm:"type:varchar(16);index;not null" json:"status"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt    *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	RevokeReason string     `gorm:"type:varchar(64)" json:"revoke_reason,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the account's expiry instant has passed. The
// sweeper flips the status itself; callers filtering "usable" accounts need
// both the status and this check because sweeps run on an interval.
func (a *Account) IsExpired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// ValidSecret applies the credential format rule: 3-32 characters, no
// whitespace and no comma (the remote registry stores secrets in a
// comma-separated list).
func ValidSecret(secret string) bool {
	if len(secret) < SecretMinLen || len(secret) > SecretMaxLen {
		return false
	}
	if strings.ContainsAny(secret, " \t\n\r,") {
		return false
	}
	return true
}
