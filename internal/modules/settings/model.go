// Package settings manages the site-wide security policy: lockout
// thresholds, password complexity rules, hashing cost, and session
// timeouts. The policy is a single durable row accessed through an
// explicit Get/Update interface rather than process-global state, so it
// stays testable and changes take effect without a restart.
package settings

import (
	"time"

	"github.com/oakmere/clientdesk/internal/hasher"
)

// Policy is the security policy record. Exactly one logical instance
// exists (row id 1); Get materializes it from defaults when missing --
// the only implicit creation anywhere in the security core.
type Policy struct {
	// MaxLoginAttempts is the consecutive-failure count that locks an account.
	MaxLoginAttempts int `json:"max_login_attempts"`

	// LockoutMinutes is how long a locked account stays locked.
	LockoutMinutes int `json:"lockout_minutes"`

	// PasswordMinLength is the minimum accepted password length.
	PasswordMinLength int `json:"password_min_length"`

	// Complexity toggles. At least one must remain true.
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireNumbers   bool `json:"require_numbers"`
	RequireSpecial   bool `json:"require_special"`

	// PasswordHistoryDepth is how many prior passwords are retained and
	// checked for reuse. 0 disables the history check.
	PasswordHistoryDepth int `json:"password_history_depth"`

	// PasswordExpiryDays forces a password change after this many days.
	// 0 disables expiry entirely, including for accounts with no recorded
	// change timestamp.
	PasswordExpiryDays int `json:"password_expiry_days"`

	// HashIterations is the PBKDF2 iteration count for new credentials.
	// Floor-enforced; lowering below the safety minimum is rejected.
	HashIterations int `json:"hash_iterations"`

	// SessionTimeoutMinutes is the idle age after which a session is
	// invalidated.
	SessionTimeoutMinutes int `json:"session_timeout_minutes"`

	// StrictFingerprint controls fingerprint mismatch handling: true
	// invalidates the session, false records a warning and proceeds.
	StrictFingerprint bool `json:"strict_fingerprint"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Defaults returns the policy used when no row exists or after a reset.
func Defaults() Policy {
	return Policy{
		MaxLoginAttempts:      5,
		LockoutMinutes:        30,
		PasswordMinLength:     12,
		RequireUppercase:      true,
		RequireLowercase:      true,
		RequireNumbers:        true,
		RequireSpecial:        true,
		PasswordHistoryDepth:  5,
		PasswordExpiryDays:    90,
		HashIterations:        hasher.DefaultIterations,
		SessionTimeoutMinutes: 60,
		StrictFingerprint:     true,
	}
}

// LockoutDuration returns the lockout window as a duration.
func (p Policy) LockoutDuration() time.Duration {
	return time.Duration(p.LockoutMinutes) * time.Minute
}

// SessionTimeout returns the idle session timeout as a duration.
func (p Policy) SessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutMinutes) * time.Minute
}

// UpdateInput is a partial policy update. Nil fields keep their current
// values; set fields are validated individually and then cross-checked as
// a whole.
type UpdateInput struct {
	MaxLoginAttempts      *int  `json:"max_login_attempts"`
	LockoutMinutes        *int  `json:"lockout_minutes"`
	PasswordMinLength     *int  `json:"password_min_length"`
	RequireUppercase      *bool `json:"require_uppercase"`
	RequireLowercase      *bool `json:"require_lowercase"`
	RequireNumbers        *bool `json:"require_numbers"`
	RequireSpecial        *bool `json:"require_special"`
	PasswordHistoryDepth  *int  `json:"password_history_depth"`
	PasswordExpiryDays    *int  `json:"password_expiry_days"`
	HashIterations        *int  `json:"hash_iterations"`
	SessionTimeoutMinutes *int  `json:"session_timeout_minutes"`
	StrictFingerprint     *bool `json:"strict_fingerprint"`
}
