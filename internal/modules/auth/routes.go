package auth

import (
	"github.com/labstack/echo/v4"
)

// RegisterPublicRoutes sets up the unauthenticated login route. The rate
// limiter is supplied by the caller so its window is configured in one
// place.
func RegisterPublicRoutes(e *echo.Echo, h *Handler, loginLimiter echo.MiddlewareFunc) {
	e.POST("/login", h.Login, loginLimiter)
}

// RegisterRoutes sets up the authenticated account routes.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.POST("/logout", h.Logout)
	g.POST("/reauth", h.Reauth)
	g.GET("/me", h.Me)
	g.POST("/account/password", h.ChangePassword)
}

// RegisterAdminRoutes sets up the user management routes. The mutating
// routes (create, unlock) are re-auth gated with the short window.
func RegisterAdminRoutes(g *echo.Group, h *Handler, requireRecentAuth echo.MiddlewareFunc) {
	g.GET("/users", h.ListUsers)
	g.POST("/users", h.CreateUser, requireRecentAuth)
	g.POST("/users/:id/unlock", h.UnlockAccount, requireRecentAuth)
}
