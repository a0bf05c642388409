package clients

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/modules/audit"
)

const perPage = 25

// Export limits mirror the audit exporter: batched reads, hard row cap.
const (
	exportBatchSize = 500
	exportMaxRows   = 50_000
)

// Service is the client management contract.
type Service interface {
	List(ctx context.Context, search string, page int) ([]Client, int, error)
	Get(ctx context.Context, id string) (*Client, error)
	Create(ctx context.Context, input Input, meta audit.RequestMeta) (*Client, error)
	Update(ctx context.Context, id string, input Input) (*Client, error)
	Delete(ctx context.Context, id string, meta audit.RequestMeta) error
	ExportCSV(ctx context.Context, w io.Writer, meta audit.RequestMeta) error
}

// service implements Service.
type service struct {
	repo     Repository
	recorder audit.Recorder
}

// NewService creates a new client service.
func NewService(repo Repository, recorder audit.Recorder) Service {
	return &service{repo: repo, recorder: recorder}
}

// List returns a page of clients.
func (s *service) List(ctx context.Context, search string, page int) ([]Client, int, error) {
	if page < 1 {
		page = 1
	}
	return s.repo.List(ctx, strings.TrimSpace(search), perPage, (page-1)*perPage)
}

// Get retrieves one client.
func (s *service) Get(ctx context.Context, id string) (*Client, error) {
	return s.repo.GetByID(ctx, id)
}

// validateInput checks required fields, collecting all violations.
func validateInput(input Input) error {
	fields := map[string]string{}
	if strings.TrimSpace(input.Name) == "" {
		fields["name"] = "must not be empty"
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(input.Email)); err != nil {
		fields["email"] = "must be a valid email address"
	}
	if len(fields) > 0 {
		return apperror.NewValidationFields("client validation failed", fields)
	}
	return nil
}

// Create adds a client record attributed to the acting user.
func (s *service) Create(ctx context.Context, input Input, meta audit.RequestMeta) (*Client, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	c := &Client{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(input.Name),
		Email:     strings.TrimSpace(input.Email),
		Phone:     strings.TrimSpace(input.Phone),
		Company:   strings.TrimSpace(input.Company),
		Notes:     input.Notes,
		CreatedBy: meta.ActorID,
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update rewrites a client's mutable fields.
func (s *service) Update(ctx context.Context, id string, input Input) (*Client, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Name = strings.TrimSpace(input.Name)
	c.Email = strings.TrimSpace(input.Email)
	c.Phone = strings.TrimSpace(input.Phone)
	c.Company = strings.TrimSpace(input.Company)
	c.Notes = input.Notes

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a client and records who did it. The audit write is part
// of the operation: if it fails, the caller sees failure.
func (s *service) Delete(ctx context.Context, id string, meta audit.RequestMeta) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	return s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventClientDeleted,
		UserID:    meta.Actor(),
		ActorID:   meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"client_id": c.ID, "client_name": c.Name},
	})
}

// ExportCSV streams the full client list as CSV and records the export.
func (s *service) ExportCSV(ctx context.Context, w io.Writer, meta audit.RequestMeta) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "name", "email", "phone", "company", "notes", "created_by", "created_at"}); err != nil {
		return apperror.NewInternal(fmt.Errorf("writing export header: %w", err))
	}

	exported := 0
	for offset := 0; exported < exportMaxRows; offset += exportBatchSize {
		batch, _, err := s.repo.List(ctx, "", exportBatchSize, offset)
		if err != nil {
			return err
		}
		for _, c := range batch {
			if exported >= exportMaxRows {
				break
			}
			if err := cw.Write([]string{
				c.ID, c.Name, c.Email, c.Phone, c.Company, c.Notes,
				c.CreatedBy, c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}); err != nil {
				return apperror.NewInternal(fmt.Errorf("writing export row: %w", err))
			}
			exported++
		}
		if len(batch) < exportBatchSize {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperror.NewInternal(fmt.Errorf("flushing export: %w", err))
	}

	return s.recorder.Record(ctx, &audit.Event{
		EventType: audit.EventClientExported,
		UserID:    meta.Actor(),
		ActorID:   meta.Actor(),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Details:   map[string]any{"rows": exported},
	})
}
