// Package audit provides the append-only security event ledger. Every
// security-relevant action in Clientdesk -- logins, lockouts, password and
// config changes, session invalidations -- writes exactly one event here,
// synchronously, before the action is considered complete. Events are never
// updated or deleted by normal operation.
package audit

import "time"

// Event type constants. These strings are stored in the database and
// filtered on, so they are part of the ledger's contract -- do not rename.
const (
	EventLoginSuccess          = "login_success"
	EventLoginFailed           = "login_failed"
	EventAccountLocked         = "account_locked"
	EventAccountUnlocked       = "account_unlocked"
	EventUserLogout            = "user_logout"
	EventUserCreated           = "user_created"
	EventPasswordChanged       = "password_changed"
	EventConfigChanged         = "security_config_changed"
	EventSessionExpired        = "session_expired"
	EventSessionInvalidated    = "session_invalidated"
	EventFingerprintMismatch   = "session_fingerprint_mismatch"
	EventReauthSuccess         = "reauth_success"
	EventReauthFailed          = "reauth_failed"
	EventClientDeleted         = "client_deleted"
	EventClientExported        = "client_exported"
)

// Severity tiers. Severity is a read-only projection of the event type --
// it is derived at query time, never stored, so the classification table
// can evolve without a data migration.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// severityByType is the fixed classification table. Types missing from the
// table default to medium.
var severityByType = map[string]string{
	EventAccountLocked:       SeverityHigh,
	EventConfigChanged:       SeverityHigh,
	EventFingerprintMismatch: SeverityHigh,
	EventSessionInvalidated:  SeverityHigh,

	EventLoginFailed:     SeverityMedium,
	EventAccountUnlocked: SeverityMedium,
	EventUserCreated:     SeverityMedium,
	EventPasswordChanged: SeverityMedium,
	EventReauthFailed:    SeverityMedium,
	EventClientDeleted:   SeverityMedium,

	EventLoginSuccess:   SeverityLow,
	EventUserLogout:     SeverityLow,
	EventSessionExpired: SeverityLow,
	EventReauthSuccess:  SeverityLow,
	EventClientExported: SeverityLow,
}

// SeverityOf returns the derived severity tier for an event type.
func SeverityOf(eventType string) string {
	if s, ok := severityByType[eventType]; ok {
		return s
	}
	return SeverityMedium
}

// typesForSeverity inverts the classification table so a severity filter
// can be pushed down into SQL as an event-type set.
func typesForSeverity(severity string) []string {
	var types []string
	for t, s := range severityByType {
		if s == severity {
			types = append(types, t)
		}
	}
	return types
}

// Event represents a single recorded security event. UserID is nil when the
// actor is unauthenticated or unknown -- a failed login against a
// non-existent email has no user to attribute, and storing a guess would
// poison the ledger.
type Event struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	UserID    *string        `json:"user_id,omitempty"`
	ActorID   *string        `json:"actor_id,omitempty"` // Admin who performed the action, when distinct.
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`

	// Severity is derived from EventType at read time.
	Severity string `json:"severity"`

	// Joined for display, not stored.
	UserEmail  string `json:"user_email,omitempty"`
	ActorEmail string `json:"actor_email,omitempty"`
}

// RequestMeta carries the request-scoped facts every recorded event needs:
// who acted and from where. Handlers build one per request and services
// thread it through to Record.
type RequestMeta struct {
	ActorID   string
	IPAddress string
	UserAgent string
}

// Actor returns the actor id as a nullable pointer for Event fields.
func (m RequestMeta) Actor() *string {
	if m.ActorID == "" {
		return nil
	}
	id := m.ActorID
	return &id
}

// Filter narrows event queries. Every field is independently optional;
// set fields are AND-composed.
type Filter struct {
	EventType string
	UserID    string
	Severity  string
	From      *time.Time
	To        *time.Time
}

// TypeCount is one row of the per-type aggregation.
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

// BucketCount is one row of a time-bucketed aggregation. Bucket is a
// date string: YYYY-MM-DD for days, YYYY-WW for weeks, YYYY-MM for months.
type BucketCount struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// Stats holds the aggregate view for the security dashboard.
type Stats struct {
	TotalEvents     int           `json:"total_events"`
	FailedLogins24h int           `json:"failed_logins_24h"`
	Logins24h       int           `json:"logins_24h"`
	UniqueIPs24h    int           `json:"unique_ips_24h"`
	ByDay           []BucketCount `json:"by_day"`   // Last 30 days.
	ByWeek          []BucketCount `json:"by_week"`  // Last 12 weeks.
	ByMonth         []BucketCount `json:"by_month"` // Last 12 months.
	ByType          []TypeCount   `json:"by_type"`
	RecentHigh      []Event       `json:"recent_high"` // 20 most recent high-severity events.
}
