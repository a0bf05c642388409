package clients

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the client routes on an authenticated group. The
// CSV export takes the re-auth gate supplied by the caller.
func RegisterRoutes(g *echo.Group, h *Handler, requireRecentAuth echo.MiddlewareFunc) {
	g.GET("/clients", h.List)
	g.POST("/clients", h.Create)
	g.GET("/clients/export.csv", h.ExportCSV, requireRecentAuth)
	g.GET("/clients/:id", h.Get)
	g.PUT("/clients/:id", h.Update)
	g.DELETE("/clients/:id", h.Delete)
}
