package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/oakmere/clientdesk/internal/modules/audit"
)

// stubService satisfies Service with canned responses so route wiring can
// be exercised without the full login fixture.
type stubService struct{}

func (stubService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	return &LoginResult{}, nil
}

func (stubService) Logout(ctx context.Context, token string, meta audit.RequestMeta) error {
	return nil
}

func (stubService) Reauth(ctx context.Context, token, userID, password string, meta audit.RequestMeta) error {
	return nil
}

func (stubService) ChangePassword(ctx context.Context, token, userID, current, newPassword string, meta audit.RequestMeta) (string, time.Duration, error) {
	return "", 0, nil
}

func (stubService) CreateUser(ctx context.Context, input CreateUserInput, meta audit.RequestMeta) (*User, error) {
	return &User{ID: "user-1", Email: input.Email}, nil
}

func (stubService) ListUsers(ctx context.Context) ([]User, error) {
	return nil, nil
}

func (stubService) UnlockAccount(ctx context.Context, userID string, meta audit.RequestMeta) error {
	return nil
}

func TestAdminMutationsPassReauthGate(t *testing.T) {
	e := echo.New()
	gateHits := 0
	gate := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			gateHits++
			return next(c)
		}
	}
	RegisterAdminRoutes(e.Group("/admin"), NewHandler(stubService{}, false), gate)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if body != "" {
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/admin/users", `{"email":"new@example.com","display_name":"New","password":"Vermilion+Harbor93"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: status %d", rec.Code)
	}
	if gateHits != 1 {
		t.Errorf("user creation must pass the re-auth gate, got %d gate hits", gateHits)
	}

	rec = do(http.MethodPost, "/admin/users/user-1/unlock", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unlock: status %d", rec.Code)
	}
	if gateHits != 2 {
		t.Errorf("unlock must pass the re-auth gate, got %d gate hits", gateHits)
	}

	rec = do(http.MethodGet, "/admin/users", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list users: status %d", rec.Code)
	}
	if gateHits != 2 {
		t.Errorf("listing users must not pass the gate, got %d gate hits", gateHits)
	}
}
