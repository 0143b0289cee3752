package model

import "time"

// TwoFaStatus is the tagged 2FA state of a user. The encrypted secret fields
// on User are populated only for StatusPendingSetup and StatusEnabled.
type TwoFaStatus string

const (
	TwoFaDisabled     TwoFaStatus = "disabled"
	TwoFaPendingSetup TwoFaStatus = "pending_setup"
	TwoFaEnabled      TwoFaStatus = "enabled"
)

// -------------------- USER --------------------

type User struct {
	Bucket         int         `json:"user_bucket" db:"user_bucket"` // murmur3 partition bucket
	ID             string      `json:"user_id" db:"user_id"`         // UUID
	Email          string      `json:"email" db:"email"`             // lowercased, unique
	Username       string      `json:"username" db:"username"`       // lowercased, unique
	Name           string      `json:"name" db:"name"`
	Description    string      `json:"description" db:"description"`
	TwoFaStatus    TwoFaStatus `json:"two_fa_status" db:"two_fa_status"`
	TwoFaSecretEnc string      `json:"-" db:"two_fa_secret_enc"` // envelope-encrypted TOTP secret
	TwoFaSecretDEK string      `json:"-" db:"two_fa_secret_dek"` // encrypted data key
	TwoFaKeyID     string      `json:"-" db:"two_fa_key_id"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
	DisabledAt     *time.Time  `json:"disabled_at,omitempty" db:"disabled_at"` // deferred deletion marker
}

// TwoFaActive reports whether sign-in must go through a 2FA challenge.
func (u *User) TwoFaActive() bool {
	return u.TwoFaStatus == TwoFaEnabled
}

// -------------------- PENDING FLOWS --------------------

// PendingUser is a registration awaiting its emailed one-time code.
// At most one live row per email; consuming deletes the row.
type PendingUser struct {
	ID        string    `json:"pending_user_id" db:"pending_user_id"` // UUID
	Email     string    `json:"email" db:"email"`
	Username  string    `json:"username" db:"username"`
	CodeHash  string    `json:"-" db:"code_hash"` // encoded argon2 hash, never the plaintext
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Attempts  int       `json:"attempts" db:"attempts"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PendingSession is a sign-in awaiting either an emailed code or, when the
// account has 2FA enabled, a TOTP challenge (TwoFa true, empty CodeHash).
type PendingSession struct {
	ID        string    `json:"pending_session_id" db:"pending_session_id"` // UUID
	UserID    string    `json:"user_id" db:"user_id"`
	CodeHash  string    `json:"-" db:"code_hash"`
	TwoFa     bool      `json:"two_fa" db:"two_fa"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Attempts  int       `json:"attempts" db:"attempts"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PendingEmail is an email change awaiting verification of the new address.
type PendingEmail struct {
	ID        string    `json:"pending_email_id" db:"pending_email_id"` // UUID
	UserID    string    `json:"user_id" db:"user_id"`
	NewEmail  string    `json:"new_email" db:"new_email"`
	CodeHash  string    `json:"-" db:"code_hash"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Attempts  int       `json:"attempts" db:"attempts"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// -------------------- SESSION --------------------

// Session is valid iff RevokedAt is nil and the presented token secret
// hashes to SecretHash.
type Session struct {
	ID         string     `json:"session_id" db:"session_id"` // UUID
	UserID     string     `json:"user_id" db:"user_id"`
	SecretHash string     `json:"-" db:"secret_hash"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}
