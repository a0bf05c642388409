package clients

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/modules/audit"
	"github.com/oakmere/clientdesk/internal/modules/sessions"
)

// Handler handles client management HTTP requests.
type Handler struct {
	service Service
}

// NewHandler creates a new client handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// List returns a page of clients (GET /clients). Query params: q, page.
func (h *Handler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	clients, total, err := h.service.List(c.Request().Context(), c.QueryParam("q"), page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"clients":  clients,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// Get returns one client (GET /clients/:id).
func (h *Handler) Get(c echo.Context) error {
	client, err := h.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client)
}

// Create adds a client (POST /clients).
func (h *Handler) Create(c echo.Context) error {
	var input Input
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	client, err := h.service.Create(c.Request().Context(), input, requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, client)
}

// Update rewrites a client (PUT /clients/:id).
func (h *Handler) Update(c echo.Context) error {
	var input Input
	if err := c.Bind(&input); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	client, err := h.service.Update(c.Request().Context(), c.Param("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client)
}

// Delete removes a client (DELETE /clients/:id).
func (h *Handler) Delete(c echo.Context) error {
	if err := h.service.Delete(c.Request().Context(), c.Param("id"), requestMeta(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ExportCSV streams all clients as a CSV download
// (GET /clients/export.csv). Re-auth gated in app/routes.go.
func (h *Handler) ExportCSV(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="clients-%s.csv"`, time.Now().UTC().Format("2006-01-02")))
	res.WriteHeader(http.StatusOK)

	return h.service.ExportCSV(c.Request().Context(), res.Writer, requestMeta(c))
}

// requestMeta builds the audit metadata for the current request.
func requestMeta(c echo.Context) audit.RequestMeta {
	return audit.RequestMeta{
		ActorID:   sessions.UserID(c),
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
