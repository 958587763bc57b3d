package models

import "time"

// Identity is a login credential record
type Identity struct {
	ID           int64
	Email        string
	PasswordHash string // empty for legacy accounts that never set a password
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether a password hash is stored for the identity
func (i *Identity) HasPassword() bool {
	return i.PasswordHash != ""
}

// PasswordResetToken represents a token for setting or resetting a password
type PasswordResetToken struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
	Used      bool
}

// IsExpired reports whether the token has expired at now
func (t *PasswordResetToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
