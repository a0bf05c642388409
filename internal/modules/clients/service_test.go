package clients

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"strconv"
	"testing"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/modules/audit"
)

// fakeRepo is an in-memory Repository preserving insertion order.
type fakeRepo struct {
	clients []Client
}

func (f *fakeRepo) Insert(ctx context.Context, c *Client) error {
	f.clients = append(f.clients, *c)
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*Client, error) {
	for _, c := range f.clients {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("client not found")
}

func (f *fakeRepo) Update(ctx context.Context, c *Client) error {
	for i := range f.clients {
		if f.clients[i].ID == c.ID {
			f.clients[i] = *c
			return nil
		}
	}
	return apperror.NewNotFound("client not found")
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	for i := range f.clients {
		if f.clients[i].ID == id {
			f.clients = append(f.clients[:i], f.clients[i+1:]...)
			return nil
		}
	}
	return apperror.NewNotFound("client not found")
}

func (f *fakeRepo) List(ctx context.Context, search string, limit, offset int) ([]Client, int, error) {
	if offset >= len(f.clients) {
		return nil, len(f.clients), nil
	}
	end := offset + limit
	if end > len(f.clients) {
		end = len(f.clients)
	}
	return f.clients[offset:end], len(f.clients), nil
}

// captureRecorder collects audit events.
type captureRecorder struct {
	events []*audit.Event
	err    error
}

func (r *captureRecorder) Record(ctx context.Context, e *audit.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func testMeta() audit.RequestMeta {
	return audit.RequestMeta{ActorID: "user-1", IPAddress: "203.0.113.7", UserAgent: "test-agent/1.0"}
}

func TestCreateValidates(t *testing.T) {
	svc := NewService(&fakeRepo{}, &captureRecorder{})

	_, err := svc.Create(context.Background(), Input{Name: "", Email: "bad"}, testMeta())
	appErr, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected *apperror.AppError, got %T", err)
	}
	if _, present := appErr.Fields["name"]; !present {
		t.Errorf("expected name violation, got %v", appErr.Fields)
	}
	if _, present := appErr.Fields["email"]; !present {
		t.Errorf("expected email violation, got %v", appErr.Fields)
	}
}

func TestCreateAttributesActor(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, &captureRecorder{})

	c, err := svc.Create(context.Background(), Input{
		Name:  "  Acme Ltd  ",
		Email: "contact@acme.example",
	}, testMeta())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == "" {
		t.Error("expected generated id")
	}
	if c.Name != "Acme Ltd" {
		t.Errorf("name must be trimmed, got %q", c.Name)
	}
	if c.CreatedBy != "user-1" {
		t.Errorf("expected attribution, got %q", c.CreatedBy)
	}
}

func TestUpdateMissing(t *testing.T) {
	svc := NewService(&fakeRepo{}, &captureRecorder{})

	_, err := svc.Update(context.Background(), "missing", Input{Name: "X", Email: "x@example.com"})
	if apperror.SafeCode(err) != http.StatusNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteAudits(t *testing.T) {
	repo := &fakeRepo{}
	rec := &captureRecorder{}
	svc := NewService(repo, rec)

	c, err := svc.Create(context.Background(), Input{Name: "Acme", Email: "contact@acme.example"}, testMeta())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(context.Background(), c.ID, testMeta()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(repo.clients) != 0 {
		t.Error("expected deletion")
	}
	if len(rec.events) != 1 || rec.events[0].EventType != audit.EventClientDeleted {
		t.Fatalf("expected client_deleted audit event, got %v", rec.events)
	}
	if rec.events[0].Details["client_name"] != "Acme" {
		t.Errorf("expected client name in details, got %v", rec.events[0].Details)
	}
}

func TestDeleteFailsWhenAuditFails(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, &captureRecorder{err: apperror.NewInternal(context.DeadlineExceeded)})

	c, err := NewService(repo, &captureRecorder{}).Create(context.Background(),
		Input{Name: "Acme", Email: "contact@acme.example"}, testMeta())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(context.Background(), c.ID, testMeta()); err == nil {
		t.Fatal("delete must fail when the audit write fails")
	}
}

func TestExportCSV(t *testing.T) {
	repo := &fakeRepo{}
	rec := &captureRecorder{}
	svc := NewService(repo, rec)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), Input{
			Name:  "Client " + strconv.Itoa(i),
			Email: "client" + strconv.Itoa(i) + "@example.com",
		}, testMeta())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := svc.ExportCSV(context.Background(), &buf, testMeta()); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parsing export: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(records))
	}
	if records[0][1] != "name" {
		t.Errorf("unexpected header: %v", records[0])
	}

	exported := false
	for _, e := range rec.events {
		if e.EventType == audit.EventClientExported {
			exported = true
			if e.Details["rows"] != 3 {
				t.Errorf("expected rows detail 3, got %v", e.Details["rows"])
			}
		}
	}
	if !exported {
		t.Error("expected client_exported audit event")
	}
}
