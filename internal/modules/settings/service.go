package settings

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/hasher"
	"github.com/oakmere/clientdesk/internal/modules/audit"
)

// Validation bounds per field. Kept here rather than in the model so the
// update path is the single place that decides what a legal policy is.
const (
	minLoginAttempts = 3
	maxLoginAttempts = 10

	minLockoutMinutes = 5
	maxLockoutMinutes = 1440

	minPasswordLength = 8
	maxPasswordLength = 64

	maxHistoryDepth = 24

	maxExpiryDays = 365

	minSessionTimeout = 5
	maxSessionTimeout = 1440
)

// Service manages the security policy. Every mutation is validated and
// audited; reads materialize defaults when no policy has ever been saved.
type Service interface {
	// Get returns the active policy, creating it from defaults if absent.
	Get(ctx context.Context) (*Policy, error)

	// Update applies a partial update. On any validation failure it
	// returns a field-keyed validation error and leaves the policy
	// unchanged. On success it records a security_config_changed event
	// with old/new values per changed field.
	Update(ctx context.Context, input UpdateInput, meta audit.RequestMeta) (*Policy, error)

	// Reset restores defaults, audited like Update.
	Reset(ctx context.Context, meta audit.RequestMeta) (*Policy, error)
}

// service implements Service.
type service struct {
	repo     PolicyRepository
	recorder audit.Recorder
}

// NewService creates a new settings service.
func NewService(repo PolicyRepository, recorder audit.Recorder) Service {
	return &service{repo: repo, recorder: recorder}
}

// Get returns the active policy. A missing row is materialized from
// defaults and persisted -- the only implicit creation in the core, so
// first boot works without a seeding step.
func (s *service) Get(ctx context.Context) (*Policy, error) {
	p, err := s.repo.Get(ctx)
	if err == nil {
		return p, nil
	}
	if apperror.SafeCode(err) != http.StatusNotFound {
		return nil, err
	}

	defaults := Defaults()
	if err := s.repo.Save(ctx, &defaults); err != nil {
		return nil, err
	}
	slog.Info("security policy materialized from defaults")
	return &defaults, nil
}

// Update validates and applies a partial policy update.
func (s *service) Update(ctx context.Context, input UpdateInput, meta audit.RequestMeta) (*Policy, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	updated := *current
	applyInput(&updated, input)

	if err := validate(updated); err != nil {
		return nil, err
	}

	changes := diff(*current, updated)
	if len(changes) == 0 {
		return current, nil
	}

	if err := s.repo.Save(ctx, &updated); err != nil {
		return nil, err
	}

	// The audit write is the final step of the mutation; if it fails the
	// operation reports failure to the caller rather than completing
	// unlogged.
	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventConfigChanged,
		UserID:    meta.Actor(),
		ActorID:   meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   changes,
	}); err != nil {
		return nil, err
	}

	slog.Info("security policy updated",
		slog.String("by", meta.ActorID),
		slog.Int("changed_fields", len(changes)),
	)

	return &updated, nil
}

// Reset restores the default policy.
func (s *service) Reset(ctx context.Context, meta audit.RequestMeta) (*Policy, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	defaults := Defaults()
	changes := diff(*current, defaults)

	if err := s.repo.Save(ctx, &defaults); err != nil {
		return nil, err
	}

	details := map[string]any{"reset": true}
	for k, v := range changes {
		details[k] = v
	}
	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventConfigChanged,
		UserID:    meta.Actor(),
		ActorID:   meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   details,
	}); err != nil {
		return nil, err
	}

	slog.Info("security policy reset to defaults", slog.String("by", meta.ActorID))

	return &defaults, nil
}

// applyInput copies set fields from the input onto the policy.
func applyInput(p *Policy, in UpdateInput) {
	if in.MaxLoginAttempts != nil {
		p.MaxLoginAttempts = *in.MaxLoginAttempts
	}
	if in.LockoutMinutes != nil {
		p.LockoutMinutes = *in.LockoutMinutes
	}
	if in.PasswordMinLength != nil {
		p.PasswordMinLength = *in.PasswordMinLength
	}
	if in.RequireUppercase != nil {
		p.RequireUppercase = *in.RequireUppercase
	}
	if in.RequireLowercase != nil {
		p.RequireLowercase = *in.RequireLowercase
	}
	if in.RequireNumbers != nil {
		p.RequireNumbers = *in.RequireNumbers
	}
	if in.RequireSpecial != nil {
		p.RequireSpecial = *in.RequireSpecial
	}
	if in.PasswordHistoryDepth != nil {
		p.PasswordHistoryDepth = *in.PasswordHistoryDepth
	}
	if in.PasswordExpiryDays != nil {
		p.PasswordExpiryDays = *in.PasswordExpiryDays
	}
	if in.HashIterations != nil {
		p.HashIterations = *in.HashIterations
	}
	if in.SessionTimeoutMinutes != nil {
		p.SessionTimeoutMinutes = *in.SessionTimeoutMinutes
	}
	if in.StrictFingerprint != nil {
		p.StrictFingerprint = *in.StrictFingerprint
	}
}

// validate checks every field range and the cross-field rules, collecting
// every violation rather than stopping at the first.
func validate(p Policy) error {
	fields := map[string]string{}

	checkRange := func(field string, value, lo, hi int) {
		if value < lo || value > hi {
			fields[field] = fmt.Sprintf("must be between %d and %d", lo, hi)
		}
	}

	checkRange("max_login_attempts", p.MaxLoginAttempts, minLoginAttempts, maxLoginAttempts)
	checkRange("lockout_minutes", p.LockoutMinutes, minLockoutMinutes, maxLockoutMinutes)
	checkRange("password_min_length", p.PasswordMinLength, minPasswordLength, maxPasswordLength)
	checkRange("password_history_depth", p.PasswordHistoryDepth, 0, maxHistoryDepth)
	checkRange("password_expiry_days", p.PasswordExpiryDays, 0, maxExpiryDays)
	checkRange("session_timeout_minutes", p.SessionTimeoutMinutes, minSessionTimeout, maxSessionTimeout)

	// The iteration band mirrors the hasher's own floor so a policy the
	// settings screen accepts can never be rejected at hashing time.
	if p.HashIterations < hasher.MinIterations || p.HashIterations > hasher.MaxIterations {
		fields["hash_iterations"] = fmt.Sprintf("must be between %d and %d", hasher.MinIterations, hasher.MaxIterations)
	}

	// Cross-field rule: disabling every complexity class would let a
	// policy-compliant password be arbitrarily weak.
	if !p.RequireUppercase && !p.RequireLowercase && !p.RequireNumbers && !p.RequireSpecial {
		fields["password_requirements"] = "at least one complexity requirement must remain enabled"
	}

	if len(fields) > 0 {
		return apperror.NewValidationFields("security policy validation failed", fields)
	}
	return nil
}

// diff builds the old/new change map recorded in the audit event.
func diff(old, new Policy) map[string]any {
	changes := map[string]any{}
	add := func(field string, o, n any) {
		if o != n {
			changes[field] = map[string]any{"old": o, "new": n}
		}
	}

	add("max_login_attempts", old.MaxLoginAttempts, new.MaxLoginAttempts)
	add("lockout_minutes", old.LockoutMinutes, new.LockoutMinutes)
	add("password_min_length", old.PasswordMinLength, new.PasswordMinLength)
	add("require_uppercase", old.RequireUppercase, new.RequireUppercase)
	add("require_lowercase", old.RequireLowercase, new.RequireLowercase)
	add("require_numbers", old.RequireNumbers, new.RequireNumbers)
	add("require_special", old.RequireSpecial, new.RequireSpecial)
	add("password_history_depth", old.PasswordHistoryDepth, new.PasswordHistoryDepth)
	add("password_expiry_days", old.PasswordExpiryDays, new.PasswordExpiryDays)
	add("hash_iterations", old.HashIterations, new.HashIterations)
	add("session_timeout_minutes", old.SessionTimeoutMinutes, new.SessionTimeoutMinutes)
	add("strict_fingerprint", old.StrictFingerprint, new.StrictFingerprint)

	return changes
}
