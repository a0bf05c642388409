package settings

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/modules/audit"
	"github.com/oakmere/clientdesk/internal/modules/sessions"
)

// Handler handles HTTP requests for the security policy.
type Handler struct {
	service Service
}

// NewHandler creates a new settings handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Get returns the active policy (GET /admin/security/settings).
func (h *Handler) Get(c echo.Context) error {
	p, err := h.service.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Update applies a partial policy update (PUT /admin/security/settings).
func (h *Handler) Update(c echo.Context) error {
	var input UpdateInput
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	p, err := h.service.Update(c.Request().Context(), input, requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Reset restores the default policy (POST /admin/security/settings/reset).
func (h *Handler) Reset(c echo.Context) error {
	p, err := h.service.Reset(c.Request().Context(), requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// requestMeta builds the audit metadata for the current request.
func requestMeta(c echo.Context) audit.RequestMeta {
	return audit.RequestMeta{
		ActorID:   sessions.UserID(c),
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
