// Package auth implements credential verification, the progressive
// lockout flow, password changes, and administrative user management.
// Every path through this package is audited; every failure presented to
// the client is deliberately uninformative.
package auth

import "time"

// User is an account record. PasswordHash holds the full encoded
// credential and never leaves the server.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`

	PasswordHash string `json:"-"`

	// FailedAttempts is the consecutive failed login count. Reset on
	// success and on unlock.
	FailedAttempts int `json:"-"`

	// LockedUntil is set when FailedAttempts reaches the policy
	// threshold. Nil means not locked.
	LockedUntil *time.Time `json:"-"`

	// PasswordChangedAt drives expiry. Nil means never changed since
	// creation predates tracking.
	PasswordChangedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Locked reports whether the account is locked as of now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// LoginInput carries a login attempt.
type LoginInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResult is a successful login. PasswordExpired tells the handler to
// steer the client into a forced password change.
type LoginResult struct {
	Token           string
	TTL             time.Duration
	User            *User
	PasswordExpired bool
}

// CreateUserInput carries an admin user creation request.
type CreateUserInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	IsAdmin     bool   `json:"is_admin"`
}
