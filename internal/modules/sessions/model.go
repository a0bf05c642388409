// Package sessions implements server-side session storage and the session
// security guard. Sessions live in Redis keyed by an opaque token; the
// browser only ever holds the token. Each session is bound to the client
// fingerprint observed at creation, checked on every request, and subject
// to an idle timeout driven by the security policy.
package sessions

import "time"

// Session is the server-side session record, stored as JSON in Redis.
type Session struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`

	// Fingerprint bound at creation.
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`

	StartedAt    time.Time `json:"started_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	LastReauthAt time.Time `json:"last_reauth_at"`
}

// IdleAge returns how long the session has been idle as of now.
func (s *Session) IdleAge(now time.Time) time.Duration {
	return now.Sub(s.LastSeenAt)
}

// ReauthAge returns how long ago the user last proved their password.
func (s *Session) ReauthAge(now time.Time) time.Duration {
	return now.Sub(s.LastReauthAt)
}

// FingerprintMatches compares the bound fingerprint against the request's.
func (s *Session) FingerprintMatches(ip, userAgent string) bool {
	return s.IP == ip && s.UserAgent == userAgent
}
