package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// Handler handles HTTP requests for the security event feed. Handlers are
// thin: bind request, call service, render response. No business logic
// lives here.
type Handler struct {
	service Service
}

// NewHandler creates a new audit handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// List returns the filtered security event feed
// (GET /admin/security/events).
//
// Query params, all optional and freely combinable: type, user_id,
// severity, from, to (RFC 3339 or YYYY-MM-DD), page.
func (h *Handler) List(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	events, total, err := h.service.List(c.Request().Context(), filter, page)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"events":   events,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// ExportCSV streams the filtered event feed as a CSV download
// (GET /admin/security/events/export.csv). Route is re-auth gated in
// app/routes.go.
func (h *Handler) ExportCSV(c echo.Context) error {
	filter, err := filterFromQuery(c)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="security-events-%s.csv"`, time.Now().UTC().Format("2006-01-02")))
	res.WriteHeader(http.StatusOK)

	return h.service.ExportCSV(c.Request().Context(), filter, res.Writer)
}

// Stats returns the security dashboard aggregates
// (GET /admin/security/stats).
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// filterFromQuery builds an event Filter from query parameters.
func filterFromQuery(c echo.Context) (Filter, error) {
	filter := Filter{
		EventType: c.QueryParam("type"),
		UserID:    c.QueryParam("user_id"),
		Severity:  c.QueryParam("severity"),
	}

	if v := c.QueryParam("from"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return Filter{}, apperror.NewBadRequest("invalid 'from' timestamp")
		}
		filter.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return Filter{}, apperror.NewBadRequest("invalid 'to' timestamp")
		}
		filter.To = &t
	}

	return filter, nil
}

// parseTimeParam accepts RFC 3339 timestamps or bare dates.
func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
