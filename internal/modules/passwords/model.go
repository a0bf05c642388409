// Package passwords implements the password policy engine and the
// password history ledger. The engine validates candidate passwords
// against the configured policy plus a set of always-on weak-pattern
// checks; the history ledger retains prior credential hashes so reuse
// within the configured depth can be rejected.
package passwords

import "time"

// HistoryEntry is one archived credential. The hash is a full encoded
// record (algorithm, iterations, salt, digest), so entries hashed under
// older iteration settings remain verifiable.
type HistoryEntry struct {
	ID           int64
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}

// Result is the outcome of a policy validation. Errors accumulates every
// violated rule, never just the first.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}
