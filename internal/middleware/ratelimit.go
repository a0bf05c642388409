// Package middleware provides HTTP middleware for Clientdesk.
// ratelimit.go implements a per-IP rate limiter using a fixed window
// counter stored in memory. Applied to the login endpoint so credential
// stuffing from a single address is throttled before it ever reaches the
// per-account lockout machinery.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// ipWindow is the request counter for one client IP.
type ipWindow struct {
	count   int
	started time.Time
}

// RateLimit allows maxRequests per client IP within each window and answers
// 429 beyond that. State is per-process; the lockout counters in the auth
// service are what survive restarts and multiple replicas.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	var (
		mu      sync.Mutex
		windows = map[string]*ipWindow{}
	)

	// Drop stale windows once a minute so the map does not grow with
	// every IP that ever hit the endpoint.
	go func() {
		ticker := time.NewTicker(time.Minute)
		for range ticker.C {
			mu.Lock()
			cutoff := time.Now().Add(-2 * window)
			for ip, w := range windows {
				if w.started.Before(cutoff) {
					delete(windows, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			now := time.Now()

			mu.Lock()
			w := windows[ip]
			if w == nil || now.Sub(w.started) > window {
				windows[ip] = &ipWindow{count: 1, started: now}
				mu.Unlock()
				return next(c)
			}
			w.count++
			over := w.count > maxRequests
			mu.Unlock()

			if over {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "Too Many Requests",
					"message": "Rate limit exceeded. Please try again later.",
				})
			}
			return next(c)
		}
	}
}
