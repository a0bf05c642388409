package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/hasher"
	"github.com/oakmere/clientdesk/internal/metrics"
	"github.com/oakmere/clientdesk/internal/modules/audit"
	"github.com/oakmere/clientdesk/internal/modules/passwords"
	"github.com/oakmere/clientdesk/internal/modules/sessions"
	"github.com/oakmere/clientdesk/internal/modules/settings"
)

// maxDelaySeconds caps the progressive failure delay.
const maxDelaySeconds = 16

// Generic boundary errors. The audit trail distinguishes unknown email,
// wrong password, and corrupt credential; the client never does.
var (
	errInvalidCredentials = apperror.NewUnauthorized("invalid email or password")
	errAccountLocked      = apperror.NewUnauthorized("account temporarily locked, try again later")
)

// Sleeper blocks for the given duration or until the context ends. Login
// injects it so tests observe delays instead of serving them.
type Sleeper func(ctx context.Context, d time.Duration) error

// DefaultSleeper waits on a timer and the context.
func DefaultSleeper(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Service is the authentication service contract.
type Service interface {
	Login(ctx context.Context, input LoginInput) (*LoginResult, error)
	Logout(ctx context.Context, token string, meta audit.RequestMeta) error
	Reauth(ctx context.Context, token, userID, password string, meta audit.RequestMeta) error
	ChangePassword(ctx context.Context, token, userID, current, newPassword string, meta audit.RequestMeta) (string, time.Duration, error)
	CreateUser(ctx context.Context, input CreateUserInput, meta audit.RequestMeta) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UnlockAccount(ctx context.Context, userID string, meta audit.RequestMeta) error
}

// service implements Service.
type service struct {
	users    UserRepository
	policies settings.Service
	engine   *passwords.Engine
	history  *passwords.History
	store    *sessions.Store
	recorder audit.Recorder
	metrics  *metrics.Metrics
	misses   *MissCounter
	sleep    Sleeper
	now      func() time.Time
}

// ServiceDeps bundles the service's collaborators.
type ServiceDeps struct {
	Users    UserRepository
	Policies settings.Service
	Engine   *passwords.Engine
	History  *passwords.History
	Store    *sessions.Store
	Recorder audit.Recorder
	Metrics  *metrics.Metrics
	Misses   *MissCounter
	Sleep    Sleeper
}

// NewService creates the authentication service. A nil Sleep falls back
// to DefaultSleeper.
func NewService(deps ServiceDeps) Service {
	if deps.Sleep == nil {
		deps.Sleep = DefaultSleeper
	}
	return &service{
		users:    deps.Users,
		policies: deps.Policies,
		engine:   deps.Engine,
		history:  deps.History,
		store:    deps.Store,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		misses:   deps.Misses,
		sleep:    deps.Sleep,
		now:      time.Now,
	}
}

// Login runs the full authentication flow: lockout precheck, credential
// verification, failure accounting with progressive delay, and session
// creation on success.
func (s *service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	policy, err := s.policies.Get(ctx)
	if err != nil {
		return nil, err
	}
	email := NormalizeEmail(input.Email)
	now := s.now().UTC()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if apperror.SafeCode(err) == http.StatusNotFound {
			return nil, s.failUnknown(ctx, email, input, policy)
		}
		return nil, err
	}

	// Lockout precheck runs before any hash comparison so a locked
	// account costs the attacker nothing to probe and leaks no timing.
	if user.Locked(now) {
		s.metrics.Logins.WithLabelValues("locked").Inc()
		if err := s.recorder.Record(ctx, &audit.Event{
			EventType: audit.EventLoginFailed,
			UserID:    &user.ID,
			IPAddress: input.IP,
			UserAgent: input.UserAgent,
			Details:   map[string]any{"reason": "account_locked"},
		}); err != nil {
			return nil, err
		}
		return nil, errAccountLocked
	}

	// Lazy unlock: an expired lock clears on the next attempt.
	if user.LockedUntil != nil {
		if err := s.users.ClearLock(ctx, user.ID); err != nil {
			return nil, err
		}
		user.FailedAttempts = 0
		user.LockedUntil = nil
	}

	if !hasher.Verify(input.Password, user.PasswordHash) {
		return nil, s.failKnown(ctx, user, input, policy)
	}

	if user.FailedAttempts > 0 {
		if err := s.users.ClearLock(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	// Fresh fingerprint and fresh token: a pre-login token an attacker
	// planted is never promoted.
	ttl := 2 * policy.SessionTimeout()
	token, err := s.store.Create(ctx, sessions.Session{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsAdmin:     user.IsAdmin,
		IP:          input.IP,
		UserAgent:   input.UserAgent,
	}, ttl)
	if err != nil {
		return nil, err
	}

	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventLoginSuccess,
		UserID:    &user.ID,
		IPAddress: input.IP,
		UserAgent: input.UserAgent,
	}); err != nil {
		return nil, err
	}
	s.metrics.Logins.WithLabelValues("success").Inc()

	return &LoginResult{
		Token:           token,
		TTL:             ttl,
		User:            user,
		PasswordExpired: passwords.IsExpired(user.PasswordChangedAt, policy.PasswordExpiryDays, now),
	}, nil
}

// failUnknown handles a login attempt against a non-existent identifier.
// The response, delay, and audit shape track the known-account path so the
// two are indistinguishable from outside.
func (s *service) failUnknown(ctx context.Context, email string, input LoginInput, policy *settings.Policy) error {
	s.metrics.Logins.WithLabelValues("failed").Inc()

	count, err := s.misses.Bump(ctx, email, policy.LockoutDuration())
	if err != nil {
		return err
	}
	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventLoginFailed,
		IPAddress: input.IP,
		UserAgent: input.UserAgent,
		Details:   map[string]any{"reason": "unknown_identifier"},
	}); err != nil {
		return err
	}
	if err := s.sleep(ctx, failureDelay(count)); err != nil {
		return err
	}
	return errInvalidCredentials
}

// failKnown handles a wrong password for a real account: increment,
// possibly lock, audit, delay.
func (s *service) failKnown(ctx context.Context, user *User, input LoginInput, policy *settings.Policy) error {
	s.metrics.Logins.WithLabelValues("failed").Inc()

	failed, err := s.users.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		return err
	}

	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventLoginFailed,
		UserID:    &user.ID,
		IPAddress: input.IP,
		UserAgent: input.UserAgent,
		Details:   map[string]any{"failed_attempts": failed},
	}); err != nil {
		return err
	}

	// The equality check keeps the lock transition single-shot even when
	// racing attempts push the counter past the threshold.
	if failed == policy.MaxLoginAttempts {
		until := s.now().UTC().Add(policy.LockoutDuration())
		if err := s.users.SetLock(ctx, user.ID, until); err != nil {
			return err
		}
		s.metrics.Lockouts.Inc()
		if err := s.recorder.Record(ctx, &audit.Event{
			EventType: audit.EventAccountLocked,
			UserID:    &user.ID,
			IPAddress: input.IP,
			UserAgent: input.UserAgent,
			Details:   map[string]any{"locked_until": until.Format(time.RFC3339)},
		}); err != nil {
			return err
		}
		slog.Warn("account locked",
			slog.String("user_id", user.ID),
			slog.Int("failed_attempts", failed),
		)
	}

	if err := s.sleep(ctx, failureDelay(failed)); err != nil {
		return err
	}
	return errInvalidCredentials
}

// failureDelay returns min(2^(failed-1), 16) seconds. The delay stalls
// only the failing request's goroutine.
func failureDelay(failed int) time.Duration {
	if failed < 1 {
		failed = 1
	}
	if failed > 5 {
		return maxDelaySeconds * time.Second
	}
	return time.Duration(1<<(failed-1)) * time.Second
}

// Logout destroys the session and records the logout.
func (s *service) Logout(ctx context.Context, token string, meta audit.RequestMeta) error {
	if err := s.store.Destroy(ctx, token); err != nil {
		return err
	}
	s.metrics.SessionInvalidations.WithLabelValues(sessions.ReasonLogout).Inc()
	return s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventUserLogout,
		UserID:    meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

// Reauth verifies the current password and refreshes the session's
// re-auth timestamp, unlocking the sensitive-operation gate.
func (s *service) Reauth(ctx context.Context, token, userID, password string, meta audit.RequestMeta) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !hasher.Verify(password, user.PasswordHash) {
		if err := s.recorder.Record(ctx, &audit.Event{
			EventType: audit.EventReauthFailed,
			UserID:    &user.ID,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		}); err != nil {
			return err
		}
		return errInvalidCredentials
	}

	policy, err := s.policies.Get(ctx)
	if err != nil {
		return err
	}
	if err := s.store.RefreshReauth(ctx, token, 2*policy.SessionTimeout()); err != nil {
		return err
	}
	return s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventReauthSuccess,
		UserID:    &user.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

// ChangePassword rotates a credential: verify the current password, run
// the policy engine, archive the outgoing hash, store the new one, and
// regenerate the session under a fresh token. Returns the new token and
// its TTL.
func (s *service) ChangePassword(ctx context.Context, token, userID, current, newPassword string, meta audit.RequestMeta) (string, time.Duration, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", 0, err
	}

	if !hasher.Verify(current, user.PasswordHash) {
		return "", 0, apperror.NewValidationFields("password change rejected",
			map[string]string{"current_password": "current password is incorrect"})
	}

	policy, err := s.policies.Get(ctx)
	if err != nil {
		return "", 0, err
	}

	result, err := s.engine.Validate(ctx, newPassword, userID)
	if err != nil {
		return "", 0, err
	}
	// The history table holds prior credentials; the active one lives on
	// the user row, so same-as-current needs its own check.
	if result.Valid && policy.PasswordHistoryDepth > 0 && hasher.Verify(newPassword, user.PasswordHash) {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("password was used within your last %d password changes", policy.PasswordHistoryDepth))
	}
	if !result.Valid {
		return "", 0, apperror.NewValidationFields("password change rejected",
			map[string]string{"new_password": strings.Join(result.Errors, "; ")})
	}

	if err := s.history.Append(ctx, userID, user.PasswordHash, policy.PasswordHistoryDepth); err != nil {
		return "", 0, err
	}

	h, err := hasher.New(policy.HashIterations)
	if err != nil {
		return "", 0, apperror.NewInternal(err)
	}
	rec, err := h.Hash(newPassword)
	if err != nil {
		return "", 0, apperror.NewInternal(err)
	}

	changedAt := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, userID, rec.Encode(), changedAt); err != nil {
		return "", 0, err
	}

	// New token, same fingerprint: the browser is unchanged but any
	// leaked token dies with the old password.
	ttl := 2 * policy.SessionTimeout()
	newToken, _, err := s.store.Regenerate(ctx, token, true, meta.IPAddress, meta.UserAgent, ttl)
	if err != nil {
		return "", 0, err
	}

	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventPasswordChanged,
		UserID:    &user.ID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}); err != nil {
		return "", 0, err
	}

	slog.Info("password changed", slog.String("user_id", user.ID))
	return newToken, ttl, nil
}

// CreateUser provisions an account with a policy-compliant initial
// password. Admin-only; re-auth gated at the route.
func (s *service) CreateUser(ctx context.Context, input CreateUserInput, meta audit.RequestMeta) (*User, error) {
	email := NormalizeEmail(input.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperror.NewValidationFields("user creation rejected",
			map[string]string{"email": "must be a valid email address"})
	}
	if strings.TrimSpace(input.DisplayName) == "" {
		return nil, apperror.NewValidationFields("user creation rejected",
			map[string]string{"display_name": "must not be empty"})
	}

	result, err := s.engine.Validate(ctx, input.Password, "")
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, apperror.NewValidationFields("user creation rejected",
			map[string]string{"password": strings.Join(result.Errors, "; ")})
	}

	policy, err := s.policies.Get(ctx)
	if err != nil {
		return nil, err
	}
	h, err := hasher.New(policy.HashIterations)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	rec, err := h.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	now := s.now().UTC()
	user := &User{
		ID:                uuid.NewString(),
		Email:             email,
		DisplayName:       strings.TrimSpace(input.DisplayName),
		IsAdmin:           input.IsAdmin,
		PasswordHash:      rec.Encode(),
		PasswordChangedAt: &now,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		return nil, err
	}

	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventUserCreated,
		UserID:    &user.ID,
		ActorID:   meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"is_admin": user.IsAdmin},
	}); err != nil {
		return nil, err
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.Bool("is_admin", user.IsAdmin),
	)
	return user, nil
}

// ListUsers returns all accounts for the admin screen.
func (s *service) ListUsers(ctx context.Context) ([]User, error) {
	return s.users.List(ctx)
}

// UnlockAccount clears the lock and counter ahead of the lockout window.
func (s *service) UnlockAccount(ctx context.Context, userID string, meta audit.RequestMeta) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.users.ClearLock(ctx, user.ID); err != nil {
		return err
	}

	if err := s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventAccountUnlocked,
		UserID:    &user.ID,
		ActorID:   meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}); err != nil {
		return err
	}

	slog.Info("account unlocked",
		slog.String("user_id", user.ID),
		slog.String("by", meta.ActorID),
	)
	return nil
}
