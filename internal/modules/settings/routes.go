package settings

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the security policy routes on the given group.
// The group is expected to already carry session-guard and admin-only
// middleware.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.GET("/security/settings", h.Get)
	g.PUT("/security/settings", h.Update)
	g.POST("/security/settings/reset", h.Reset)
}
