package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/modules/audit"
	"github.com/oakmere/clientdesk/internal/modules/sessions"
)

// Handler handles authentication HTTP requests.
type Handler struct {
	service Service

	// secureCookies mirrors the environment: true everywhere except
	// local development over plain HTTP.
	secureCookies bool
}

// NewHandler creates a new auth handler.
func NewHandler(service Service, secureCookies bool) *Handler {
	return &Handler{service: service, secureCookies: secureCookies}
}

// Login authenticates a user and establishes a session (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var input LoginInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	input.IP = c.RealIP()
	input.UserAgent = c.Request().UserAgent()

	result, err := h.service.Login(c.Request().Context(), input)
	if err != nil {
		return err
	}

	sessions.WriteCookie(c, result.Token, result.TTL, h.secureCookies)

	return c.JSON(http.StatusOK, map[string]any{
		"user":             result.User,
		"password_expired": result.PasswordExpired,
	})
}

// Logout tears down the current session (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	if err := h.service.Logout(c.Request().Context(), sessions.Token(c), requestMeta(c)); err != nil {
		return err
	}
	sessions.ClearCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated user's session view (GET /me).
func (h *Handler) Me(c echo.Context) error {
	sess := sessions.Current(c)
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":        sess.UserID,
		"email":          sess.Email,
		"display_name":   sess.DisplayName,
		"is_admin":       sess.IsAdmin,
		"started_at":     sess.StartedAt,
		"last_reauth_at": sess.LastReauthAt,
	})
}

// Reauth verifies the current password to refresh the sensitive-operation
// gate (POST /reauth).
func (h *Handler) Reauth(c echo.Context) error {
	var body struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.Reauth(c.Request().Context(), sessions.Token(c), sessions.UserID(c), body.Password, requestMeta(c))
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ChangePassword rotates the caller's credential (POST /account/password).
// The response carries a fresh session cookie.
func (h *Handler) ChangePassword(c echo.Context) error {
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := c.Bind(&body); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	token, ttl, err := h.service.ChangePassword(c.Request().Context(),
		sessions.Token(c), sessions.UserID(c), body.CurrentPassword, body.NewPassword, requestMeta(c))
	if err != nil {
		return err
	}

	sessions.WriteCookie(c, token, ttl, h.secureCookies)
	return c.NoContent(http.StatusNoContent)
}

// ListUsers returns all accounts (GET /admin/users).
func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.service.ListUsers(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"users": users})
}

// CreateUser provisions an account (POST /admin/users).
func (h *Handler) CreateUser(c echo.Context) error {
	var input CreateUserInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	user, err := h.service.CreateUser(c.Request().Context(), input, requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

// UnlockAccount clears a lockout early (POST /admin/users/:id/unlock).
func (h *Handler) UnlockAccount(c echo.Context) error {
	if err := h.service.UnlockAccount(c.Request().Context(), c.Param("id"), requestMeta(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// requestMeta builds the audit metadata for the current request.
func requestMeta(c echo.Context) audit.RequestMeta {
	return audit.RequestMeta{
		ActorID:   sessions.UserID(c),
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
