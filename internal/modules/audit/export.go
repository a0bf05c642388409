package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// exportBatchSize is how many events are fetched per round trip while
// streaming an export.
const exportBatchSize = 500

// exportMaxRows caps a single export so a filterless request cannot stream
// the entire ledger unbounded.
const exportMaxRows = 50_000

// csvHeader is the column order of the export. Severity is included even
// though it is derived -- consumers of the CSV should not need the
// classification table.
var csvHeader = []string{
	"id", "created_at", "event_type", "severity",
	"user_id", "user_email", "actor_id", "actor_email",
	"ip_address", "user_agent", "details",
}

// ExportCSV streams all events matching the filter to w as CSV, most
// recent first. The same filter semantics as List apply.
func (s *service) ExportCSV(ctx context.Context, filter Filter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return apperror.NewInternal(fmt.Errorf("writing csv header: %w", err))
	}

	for offset := 0; offset < exportMaxRows; offset += exportBatchSize {
		events, _, err := s.repo.List(ctx, filter, exportBatchSize, offset)
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("listing events for export: %w", err))
		}
		if len(events) == 0 {
			break
		}

		for _, e := range events {
			if err := cw.Write(csvRow(e)); err != nil {
				return apperror.NewInternal(fmt.Errorf("writing csv row: %w", err))
			}
		}

		if len(events) < exportBatchSize {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperror.NewInternal(fmt.Errorf("flushing csv: %w", err))
	}
	return nil
}

// csvRow flattens one event into export columns.
func csvRow(e Event) []string {
	details := ""
	if e.Details != nil {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}

	return []string{
		strconv.FormatInt(e.ID, 10),
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.EventType,
		e.Severity,
		deref(e.UserID),
		e.UserEmail,
		deref(e.ActorID),
		e.ActorEmail,
		e.IPAddress,
		e.UserAgent,
		details,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
