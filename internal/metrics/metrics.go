// Package metrics exposes Prometheus collectors for Clientdesk. HTTP
// request instrumentation is generic; the domain counters track the
// security events operators actually alert on (failed logins, lockouts,
// session invalidations).
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all registered collectors. Created once at startup and
// shared via dependency injection.
type Metrics struct {
	// HTTPRequests counts requests partitioned by method, route, and status.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration is a latency histogram partitioned like HTTPRequests.
	HTTPDuration *prometheus.HistogramVec

	// Logins counts login attempts by result: success, failed, locked.
	Logins *prometheus.CounterVec

	// Lockouts counts accounts transitioning into the locked state.
	Lockouts prometheus.Counter

	// SessionInvalidations counts destroyed sessions by reason:
	// expired, fingerprint, logout, admin_unlock.
	SessionInvalidations *prometheus.CounterVec

	// FingerprintMismatches counts observed fingerprint mismatches,
	// whether or not the session survived them.
	FingerprintMismatches prometheus.Counter
}

// New constructs and registers all collectors with the provided registerer.
// Passing nil uses the default registerer. Tests pass their own
// prometheus.NewRegistry() so repeated app construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clientdesk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests partitioned by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clientdesk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clientdesk",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result (success, failed, locked).",
		}, []string{"result"}),

		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clientdesk",
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Accounts locked after exceeding the failed-attempt threshold.",
		}),

		SessionInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clientdesk",
			Subsystem: "sessions",
			Name:      "invalidations_total",
			Help:      "Sessions destroyed, by reason.",
		}, []string{"reason"}),

		FingerprintMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clientdesk",
			Subsystem: "sessions",
			Name:      "fingerprint_mismatches_total",
			Help:      "Fingerprint mismatches observed in lenient mode.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests, m.HTTPDuration, m.Logins, m.Lockouts,
		m.SessionInvalidations, m.FingerprintMismatches,
	)

	return m
}

// HTTPMiddleware returns Echo middleware that records request counts and
// latencies. Route templates (not raw paths) are used as labels to keep
// cardinality bounded.
func (m *Metrics) HTTPMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			method := c.Request().Method

			m.HTTPRequests.WithLabelValues(method, route, status).Inc()
			m.HTTPDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
