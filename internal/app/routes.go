package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/oakmere/clientdesk/internal/middleware"
	"github.com/oakmere/clientdesk/internal/modules/audit"
	"github.com/oakmere/clientdesk/internal/modules/auth"
	"github.com/oakmere/clientdesk/internal/modules/clients"
	"github.com/oakmere/clientdesk/internal/modules/sessions"
	"github.com/oakmere/clientdesk/internal/modules/settings"
)

// Re-auth windows. Export-grade reads get the long window; account
// state changes get the short one.
const (
	reauthWindowExport = 15 * time.Minute
	reauthWindowAdmin  = 5 * time.Minute
)

// Login rate limit per IP.
const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// routeHandlers bundles the per-module handlers for registration.
type routeHandlers struct {
	auth     *auth.Handler
	clients  *clients.Handler
	audit    *audit.Handler
	settings *settings.Handler
}

// registerRoutes lays out the full HTTP surface.
func registerRoutes(e *echo.Echo, guard *sessions.Guard, h routeHandlers, db *sql.DB, rdb *redis.Client, registry *prometheus.Registry) {
	// Public.
	e.GET("/healthz", healthHandler(db, rdb))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	auth.RegisterPublicRoutes(e, h.auth, middleware.RateLimit(loginRateLimit, loginRateWindow))

	// Authenticated.
	authed := e.Group("", guard.Authenticate())
	auth.RegisterRoutes(authed, h.auth)
	clients.RegisterRoutes(authed, h.clients, guard.RequireRecentAuth(reauthWindowExport))

	// Admin.
	admin := e.Group("/admin", guard.Authenticate(), sessions.RequireAdmin())
	auth.RegisterAdminRoutes(admin, h.auth, guard.RequireRecentAuth(reauthWindowAdmin))
	audit.RegisterRoutes(admin, h.audit, guard.RequireRecentAuth(reauthWindowExport))
	settings.RegisterRoutes(admin, h.settings)
}

// healthHandler reports liveness of the process and its two stores.
func healthHandler(db *sql.DB, rdb *redis.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		status := http.StatusOK
		checks := map[string]string{"database": "ok", "redis": "ok"}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unreachable"
			status = http.StatusServiceUnavailable
		}

		return c.JSON(status, checks)
	}
}
