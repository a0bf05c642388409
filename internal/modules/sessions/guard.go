package sessions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/metrics"
	"github.com/oakmere/clientdesk/internal/modules/audit"
)

// CookieName is the session cookie. It carries only the opaque token.
const CookieName = "clientdesk_session"

// Echo context keys set by the guard.
const (
	ctxSession = "session"
	ctxToken   = "session_token"
)

// Invalidation reasons used for metrics labels and audit details.
const (
	ReasonExpired     = "expired"
	ReasonFingerprint = "fingerprint"
	ReasonLogout      = "logout"
	ReasonAdminUnlock = "admin_unlock"
)

// errLoginRequired is the one 401 every guard rejection maps to. The real
// reason is audited; the client only learns it must log in again.
var errLoginRequired = apperror.NewUnauthorized("please log in again")

// GuardPolicy is the slice of the security policy the guard enforces.
type GuardPolicy struct {
	IdleTimeout       time.Duration
	StrictFingerprint bool
}

// TTL returns the Redis expiry backstop, twice the idle timeout.
func (p GuardPolicy) TTL() time.Duration {
	return 2 * p.IdleTimeout
}

// PolicySource supplies the current guard policy per request, so policy
// changes take effect without restarting or re-logging-in anyone.
type PolicySource interface {
	GuardPolicy(ctx context.Context) (GuardPolicy, error)
}

// Guard authenticates requests from the session cookie and enforces the
// idle timeout and fingerprint binding.
type Guard struct {
	store    *Store
	policies PolicySource
	recorder audit.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewGuard creates a session guard.
func NewGuard(store *Store, policies PolicySource, recorder audit.Recorder, m *metrics.Metrics) *Guard {
	return &Guard{
		store:    store,
		policies: policies,
		recorder: recorder,
		metrics:  m,
		now:      time.Now,
	}
}

// Authenticate is the middleware applied to every authenticated route.
// It loads the session, enforces idle timeout and fingerprint, refreshes
// LastSeenAt, and stashes the session in the echo context.
func (g *Guard) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				return errLoginRequired
			}
			token := cookie.Value
			ctx := c.Request().Context()

			sess, err := g.store.Get(ctx, token)
			if errors.Is(err, ErrNotFound) {
				ClearCookie(c)
				return errLoginRequired
			}
			if err != nil {
				return err
			}

			policy, err := g.policies.GuardPolicy(ctx)
			if err != nil {
				return err
			}

			now := g.now().UTC()

			if sess.IdleAge(now) > policy.IdleTimeout {
				if err := g.expire(ctx, token, sess, c); err != nil {
					return err
				}
				ClearCookie(c)
				return errLoginRequired
			}

			ip, ua := c.RealIP(), c.Request().UserAgent()
			if !sess.FingerprintMatches(ip, ua) {
				g.metrics.FingerprintMismatches.Inc()
				if err := g.recorder.Record(ctx, &audit.Event{
					EventType: audit.EventFingerprintMismatch,
					UserID:    &sess.UserID,
					IPAddress: ip,
					UserAgent: ua,
					Details: map[string]any{
						"reason":   "Session fingerprint mismatch",
						"bound_ip": sess.IP,
						"strict":   policy.StrictFingerprint,
					},
				}); err != nil {
					return err
				}

				if policy.StrictFingerprint {
					g.metrics.SessionInvalidations.WithLabelValues(ReasonFingerprint).Inc()
					if err := g.store.Destroy(ctx, token); err != nil {
						return err
					}
					slog.Warn("session destroyed on fingerprint mismatch",
						slog.String("user_id", sess.UserID),
						slog.String("ip", ip),
					)
					ClearCookie(c)
					return errLoginRequired
				}

				slog.Warn("session fingerprint mismatch tolerated",
					slog.String("user_id", sess.UserID),
					slog.String("ip", ip),
				)
			}

			if err := g.store.Touch(ctx, token, sess, policy.TTL()); err != nil {
				return err
			}

			c.Set(ctxSession, sess)
			c.Set(ctxToken, token)
			return next(c)
		}
	}
}

// expire destroys an idle-timed-out session and records the event.
func (g *Guard) expire(ctx context.Context, token string, sess *Session, c echo.Context) error {
	g.metrics.SessionInvalidations.WithLabelValues(ReasonExpired).Inc()
	if err := g.store.Destroy(ctx, token); err != nil {
		return err
	}
	return g.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventSessionExpired,
		UserID:    &sess.UserID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
}

// Invalidate destroys a session for an explicit reason and records a
// session_invalidated event. Used for admin-driven teardown; logout has
// its own event type.
func (g *Guard) Invalidate(ctx context.Context, token string, reason string, userID string, meta audit.RequestMeta) error {
	g.metrics.SessionInvalidations.WithLabelValues(reason).Inc()
	if err := g.store.Destroy(ctx, token); err != nil {
		return err
	}
	return g.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventSessionInvalidated,
		UserID:    &userID,
		ActorID:   meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"reason": reason},
	})
}

// RequireAdmin rejects non-admin sessions. Must run after Authenticate.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := Current(c)
			if sess == nil || !sess.IsAdmin {
				return apperror.NewForbidden("administrator access required")
			}
			return next(c)
		}
	}
}

// RequireRecentAuth gates sensitive operations on a fresh password proof.
// A session older than maxAge since its last re-auth gets a 403 with type
// reauth_required so clients know to prompt, not to log out.
func (g *Guard) RequireRecentAuth(maxAge time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := Current(c)
			if sess == nil {
				return errLoginRequired
			}
			if sess.ReauthAge(g.now().UTC()) > maxAge {
				return &apperror.AppError{
					Code:    http.StatusForbidden,
					Type:    "reauth_required",
					Message: "please confirm your password to continue",
				}
			}
			return next(c)
		}
	}
}

// Current returns the authenticated session, or nil outside the guard.
func Current(c echo.Context) *Session {
	sess, _ := c.Get(ctxSession).(*Session)
	return sess
}

// Token returns the current session token, or "" outside the guard.
func Token(c echo.Context) string {
	token, _ := c.Get(ctxToken).(string)
	return token
}

// UserID returns the authenticated user's id, or "" outside the guard.
func UserID(c echo.Context) string {
	if sess := Current(c); sess != nil {
		return sess.UserID
	}
	return ""
}

// WriteCookie sets the session cookie on the response.
func WriteCookie(c echo.Context, token string, ttl time.Duration, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie on the response.
func ClearCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
