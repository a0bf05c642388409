package passwords

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/oakmere/clientdesk/internal/modules/settings"
)

// maxPasswordLength is fixed regardless of policy. PBKDF2 has no input
// length cliff, but unbounded inputs make the derivation cost
// attacker-controlled.
const maxPasswordLength = 128

// minStrengthScore is the zxcvbn floor (0-4 scale). Applied always-on so
// a structurally compliant password like "Password123!" still fails.
const minStrengthScore = 2

// PolicyProvider supplies the active security policy. Satisfied by
// settings.Service.
type PolicyProvider interface {
	Get(ctx context.Context) (*settings.Policy, error)
}

// Engine validates candidate passwords. Checks accumulate: the caller
// always receives every violated rule, not just the first.
type Engine struct {
	policies PolicyProvider
	history  *History
}

// NewEngine creates a new policy engine.
func NewEngine(policies PolicyProvider, history *History) *Engine {
	return &Engine{policies: policies, history: history}
}

// Validate checks a candidate password against the active policy. When
// userID is non-empty and history retention is enabled, reuse of a recent
// password is also a violation. The returned error is reserved for
// infrastructure failures; policy violations land in Result.Errors.
func (e *Engine) Validate(ctx context.Context, password, userID string) (Result, error) {
	policy, err := e.policies.Get(ctx)
	if err != nil {
		return Result{}, err
	}

	var errs []string

	// Length limits count characters, not bytes; a multibyte password
	// must not clear the minimum with fewer characters than configured.
	length := utf8.RuneCountInString(password)
	if length < policy.PasswordMinLength {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters", policy.PasswordMinLength))
	}
	if length > maxPasswordLength {
		errs = append(errs, fmt.Sprintf("password must be at most %d characters", maxPasswordLength))
	}

	errs = append(errs, complexityErrors(password, policy)...)
	errs = append(errs, weakPatternErrors(password)...)

	if userID != "" && policy.PasswordHistoryDepth > 0 {
		reused, err := e.history.IsReused(ctx, userID, password, policy.PasswordHistoryDepth)
		if err != nil {
			return Result{}, err
		}
		if reused {
			errs = append(errs, fmt.Sprintf("password was used within your last %d password changes", policy.PasswordHistoryDepth))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}, nil
}

// complexityErrors checks the config-toggled character class requirements.
func complexityErrors(password string, policy *settings.Policy) []string {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	var errs []string
	if policy.RequireUppercase && !hasUpper {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if policy.RequireLowercase && !hasLower {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if policy.RequireNumbers && !hasDigit {
		errs = append(errs, "password must contain a number")
	}
	if policy.RequireSpecial && !hasSpecial {
		errs = append(errs, "password must contain a special character")
	}
	return errs
}

// weakPatternErrors runs the always-on structural checks. These apply
// regardless of policy toggles.
func weakPatternErrors(password string) []string {
	var errs []string
	lower := strings.ToLower(password)

	if commonPasswords[lower] {
		errs = append(errs, "password is too common")
	}
	if containsKeyboardWalk(lower) {
		errs = append(errs, "password contains a keyboard pattern")
	}
	if hasRepeatedRun(password, 4) {
		errs = append(errs, "password contains 4 or more repeated characters")
	}
	if hasSequentialRun(lower, 4) {
		errs = append(errs, "password contains a sequential character run")
	}
	if password != "" && zxcvbn.PasswordStrength(password, nil).Score < minStrengthScore {
		errs = append(errs, "password is too easy to guess")
	}
	return errs
}

// IsExpired reports whether a credential is past the configured expiry.
// Expiry disabled (days <= 0) never expires anything, including accounts
// with no recorded change timestamp.
func IsExpired(changedAt *time.Time, expiryDays int, now time.Time) bool {
	if expiryDays <= 0 {
		return false
	}
	if changedAt == nil {
		return true
	}
	return now.Sub(*changedAt) > time.Duration(expiryDays)*24*time.Hour
}

// keyboardRows are scanned forward and reversed for 4+ character walks.
var keyboardRows = []string{
	"qwertyuiop",
	"asdfghjkl",
	"zxcvbnm",
	"1234567890",
}

// containsKeyboardWalk reports whether the (lowercased) password contains
// a 4+ character substring of a keyboard row, in either direction.
func containsKeyboardWalk(lower string) bool {
	for _, row := range keyboardRows {
		for _, dir := range []string{row, reverse(row)} {
			for i := 0; i+4 <= len(dir); i++ {
				if strings.Contains(lower, dir[i:i+4]) {
					return true
				}
			}
		}
	}
	return false
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// hasRepeatedRun reports whether any character repeats n or more times
// consecutively.
func hasRepeatedRun(password string, n int) bool {
	runes := []rune(password)
	count := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			count++
			if count >= n {
				return true
			}
		} else {
			count = 1
		}
	}
	return false
}

// hasSequentialRun reports whether the lowercased password contains n
// consecutive ascending characters, all letters or all digits ("abcd",
// "6789").
func hasSequentialRun(lower string, n int) bool {
	runes := []rune(lower)
	count := 1
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		sameClass := (isLatinLower(prev) && isLatinLower(cur)) || (isASCIIDigit(prev) && isASCIIDigit(cur))
		if sameClass && cur == prev+1 {
			count++
			if count >= n {
				return true
			}
		} else {
			count = 1
		}
	}
	return false
}

func isLatinLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }

// commonPasswords is the case-insensitive denylist. Entries are stored
// lowercased.
var commonPasswords = map[string]bool{
	"password":       true,
	"password1":      true,
	"password123":    true,
	"passw0rd":       true,
	"letmein":        true,
	"welcome":        true,
	"welcome1":       true,
	"admin":          true,
	"administrator":  true,
	"root":           true,
	"iloveyou":       true,
	"sunshine":       true,
	"princess":       true,
	"dragon":         true,
	"monkey":         true,
	"football":       true,
	"baseball":       true,
	"superman":       true,
	"batman":         true,
	"trustno1":       true,
	"master":         true,
	"shadow":         true,
	"michael":        true,
	"jennifer":       true,
	"hunter2":        true,
	"login":          true,
	"starwars":       true,
	"whatever":       true,
	"freedom":        true,
	"secret":         true,
	"summer":         true,
	"winter":         true,
	"changeme":       true,
	"default":        true,
	"guest":          true,
	"test":           true,
	"test123":        true,
	"temp123":        true,
	"qazwsx":         true,
	"1q2w3e4r":       true,
	"q1w2e3r4":       true,
	"zaq12wsx":       true,
	"abc123":         true,
	"111111":         true,
	"000000":         true,
	"123123":         true,
	"654321":         true,
	"696969":         true,
	"121212":         true,
	"7777777":        true,
	"1qaz2wsx":       true,
	"password!":      true,
	"p@ssword":       true,
	"p@ssw0rd":       true,
	"pa$$word":       true,
	"correcthorsebatterystaple": true,
}
