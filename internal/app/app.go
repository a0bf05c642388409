// Package app wires the application together: repositories onto stores,
// services onto repositories, handlers onto services, and everything onto
// the Echo instance. Nothing here contains business logic.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/config"
	"github.com/oakmere/clientdesk/internal/metrics"
	"github.com/oakmere/clientdesk/internal/middleware"
	"github.com/oakmere/clientdesk/internal/modules/audit"
	"github.com/oakmere/clientdesk/internal/modules/auth"
	"github.com/oakmere/clientdesk/internal/modules/clients"
	"github.com/oakmere/clientdesk/internal/modules/passwords"
	"github.com/oakmere/clientdesk/internal/modules/sessions"
	"github.com/oakmere/clientdesk/internal/modules/settings"
)

// App holds the assembled application.
type App struct {
	Echo   *echo.Echo
	Config *config.Config
}

// guardPolicySource adapts the settings service to the narrow view the
// session guard consumes.
type guardPolicySource struct {
	settings settings.Service
}

func (g guardPolicySource) GuardPolicy(ctx context.Context) (sessions.GuardPolicy, error) {
	p, err := g.settings.Get(ctx)
	if err != nil {
		return sessions.GuardPolicy{}, err
	}
	return sessions.GuardPolicy{
		IdleTimeout:       p.SessionTimeout(),
		StrictFingerprint: p.StrictFingerprint,
	}, nil
}

// New assembles the application. The registry is shared between collector
// registration and the /metrics handler; tests pass a fresh one.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, registry *prometheus.Registry) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	m := metrics.New(registry)

	middleware.TrustedProxies(e, cfg.TrustedProxies)
	e.Use(
		middleware.RequestLogger(),
		middleware.Recovery(),
		middleware.SecurityHeaders(),
		m.HTTPMiddleware(),
		middleware.CSRF(),
	)

	// Repositories.
	userRepo := auth.NewUserRepository(db)
	policyRepo := settings.NewPolicyRepository(db)
	historyRepo := passwords.NewHistoryRepository(db)
	eventRepo := audit.NewEventRepository(db)
	clientRepo := clients.NewRepository(db)

	// Services. The audit service comes first: nearly everything else
	// records through it.
	auditSvc := audit.NewService(eventRepo)
	settingsSvc := settings.NewService(policyRepo, auditSvc)
	history := passwords.NewHistory(historyRepo)
	engine := passwords.NewEngine(settingsSvc, history)
	sessionStore := sessions.NewStore(rdb)
	guard := sessions.NewGuard(sessionStore, guardPolicySource{settings: settingsSvc}, auditSvc, m)
	authSvc := auth.NewService(auth.ServiceDeps{
		Users:    userRepo,
		Policies: settingsSvc,
		Engine:   engine,
		History:  history,
		Store:    sessionStore,
		Recorder: auditSvc,
		Metrics:  m,
		Misses:   auth.NewMissCounter(rdb),
	})
	clientSvc := clients.NewService(clientRepo, auditSvc)

	// Handlers.
	secureCookies := !cfg.IsDevelopment()
	handlers := routeHandlers{
		auth:     auth.NewHandler(authSvc, secureCookies),
		clients:  clients.NewHandler(clientSvc),
		audit:    audit.NewHandler(auditSvc),
		settings: settings.NewHandler(settingsSvc),
	}

	registerRoutes(e, guard, handlers, db, rdb, registry)

	return &App{Echo: e, Config: cfg}
}

// Start begins serving HTTP.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("server starting", slog.String("addr", addr), slog.String("env", a.Config.Env))
	return a.Echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

// errorHandler renders AppErrors as structured JSON and hides everything
// else behind a generic 500. Internals are logged, never returned.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			slog.Error("request failed",
				slog.String("path", c.Path()),
				slog.String("type", appErr.Type),
				slog.String("error", appErr.Internal.Error()),
			)
		}
		body := map[string]any{"type": appErr.Type, "message": appErr.Message}
		if len(appErr.Fields) > 0 {
			body["fields"] = appErr.Fields
		}
		if jsonErr := c.JSON(appErr.Code, body); jsonErr != nil {
			slog.Error("error response failed", slog.String("error", jsonErr.Error()))
		}
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg := fmt.Sprintf("%v", httpErr.Message)
		if jsonErr := c.JSON(httpErr.Code, map[string]any{"type": "error", "message": msg}); jsonErr != nil {
			slog.Error("error response failed", slog.String("error", jsonErr.Error()))
		}
		return
	}

	slog.Error("unhandled error",
		slog.String("path", c.Path()),
		slog.String("error", err.Error()),
	)
	if jsonErr := c.JSON(http.StatusInternalServerError, map[string]any{
		"type":    "internal_error",
		"message": "An unexpected error occurred. Please try again.",
	}); jsonErr != nil {
		slog.Error("error response failed", slog.String("error", jsonErr.Error()))
	}
}
