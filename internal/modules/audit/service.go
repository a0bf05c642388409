package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// perPage is the number of events shown per page in the security feed.
const perPage = 50

// Recorder is the write-side interface the rest of the application depends
// on. Narrower than Service so callers that only emit events do not see the
// query surface.
type Recorder interface {
	// Record appends an event to the ledger. The write is synchronous and
	// its failure is FATAL to the caller: a security-relevant action that
	// cannot prove it was logged must not complete. Callers must propagate
	// a non-nil error and abort.
	Record(ctx context.Context, event *Event) error
}

// Service handles business logic for the security event ledger.
type Service interface {
	Recorder

	// List returns a filtered, paginated event feed plus the total count.
	List(ctx context.Context, filter Filter, page int) ([]Event, int, error)

	// GetStats returns the dashboard aggregates.
	GetStats(ctx context.Context) (*Stats, error)

	// ExportCSV streams all events matching the filter to w as CSV.
	ExportCSV(ctx context.Context, filter Filter, w io.Writer) error
}

// service implements Service.
type service struct {
	repo EventRepository
}

// NewService creates a new audit service with the given repository.
func NewService(repo EventRepository) Service {
	return &service{repo: repo}
}

// Record validates and appends an event. Unlike most write paths this is
// deliberately NOT fire-and-forget: the entire reason the ledger exists is
// that every authentication and authorization decision is recorded, so a
// failed write propagates as a hard error to the triggering flow.
func (s *service) Record(ctx context.Context, event *Event) error {
	if event.EventType == "" {
		return apperror.NewBadRequest("event type is required for audit event")
	}
	if event.UserID != nil && *event.UserID == "" {
		// Absent actor must be nil, never an empty string pretending to be one.
		event.UserID = nil
	}
	if event.ActorID != nil && *event.ActorID == "" {
		event.ActorID = nil
	}

	if err := s.repo.Insert(ctx, event); err != nil {
		slog.Error("failed to write security event",
			slog.String("event_type", event.EventType),
			slog.String("ip", event.IPAddress),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("writing security event: %w", err))
	}

	return nil
}

// List returns the filtered event feed. Pages are 1-indexed; invalid page
// numbers are clamped to 1.
func (s *service) List(ctx context.Context, filter Filter, page int) ([]Event, int, error) {
	if page < 1 {
		page = 1
	}
	if filter.Severity != "" &&
		filter.Severity != SeverityHigh &&
		filter.Severity != SeverityMedium &&
		filter.Severity != SeverityLow {
		return nil, 0, apperror.NewBadRequest("severity must be high, medium, or low")
	}

	offset := (page - 1) * perPage
	events, total, err := s.repo.List(ctx, filter, perPage, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing security events: %w", err))
	}

	return events, total, nil
}

// GetStats returns the dashboard aggregates.
func (s *service) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("getting security stats: %w", err))
	}
	return stats, nil
}
