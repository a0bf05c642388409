package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the security event read-side routes on the given
// group. The group is expected to already carry session-guard and
// admin-only middleware; the CSV export additionally takes the re-auth
// gate supplied by the caller.
func RegisterRoutes(g *echo.Group, h *Handler, requireRecentAuth echo.MiddlewareFunc) {
	g.GET("/security/events", h.List)
	g.GET("/security/events/export.csv", h.ExportCSV, requireRecentAuth)
	g.GET("/security/stats", h.Stats)
}
