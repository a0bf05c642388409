package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// EventRepository defines the data access contract for the security event
// ledger. All SQL lives in the concrete implementation -- no SQL leaks out.
type EventRepository interface {
	// Insert appends a new event. The ledger is append-only: there is no
	// update or delete.
	Insert(ctx context.Context, event *Event) error

	// List returns events matching the filter, most recent first, plus the
	// total match count for pagination.
	List(ctx context.Context, filter Filter, limit, offset int) ([]Event, int, error)

	// GetStats returns aggregate statistics for the security dashboard.
	GetStats(ctx context.Context) (*Stats, error)
}

// eventRepository implements EventRepository with MariaDB queries. Filtered
// reads build their WHERE clauses with squirrel since every filter field is
// independently optional.
type eventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new repository backed by the given DB pool.
func NewEventRepository(db *sql.DB) EventRepository {
	return &eventRepository{db: db}
}

// Insert appends a new event. Details are serialized to JSON; nil details
// are stored as SQL NULL, as are absent user/actor ids.
func (r *eventRepository) Insert(ctx context.Context, event *Event) error {
	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling event details: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO security_events (event_type, user_id, actor_id, ip_address, user_agent, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		event.EventType, event.UserID, event.ActorID,
		event.IPAddress, event.UserAgent,
		detailsJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting security event id: %w", err)
	}
	event.ID = id
	event.Severity = SeverityOf(event.EventType)

	return nil
}

// applyFilter translates a Filter into squirrel predicates. A severity
// filter becomes an event-type set via the classification table.
func applyFilter(b sq.SelectBuilder, filter Filter) sq.SelectBuilder {
	if filter.EventType != "" {
		b = b.Where(sq.Eq{"se.event_type": filter.EventType})
	}
	if filter.UserID != "" {
		b = b.Where(sq.Eq{"se.user_id": filter.UserID})
	}
	if filter.Severity != "" {
		b = b.Where(sq.Eq{"se.event_type": typesForSeverity(filter.Severity)})
	}
	if filter.From != nil {
		b = b.Where(sq.GtOrEq{"se.created_at": *filter.From})
	}
	if filter.To != nil {
		b = b.Where(sq.LtOrEq{"se.created_at": *filter.To})
	}
	return b
}

// List returns filtered events ordered by most recent first, joining the
// users table for display emails.
func (r *eventRepository) List(ctx context.Context, filter Filter, limit, offset int) ([]Event, int, error) {
	countSQL, countArgs, err := applyFilter(
		sq.Select("COUNT(*)").From("security_events se"), filter,
	).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building count query: %w", err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting security events: %w", err)
	}

	listSQL, listArgs, err := applyFilter(
		sq.Select(
			"se.id", "se.event_type", "se.user_id", "se.actor_id",
			"se.ip_address", "COALESCE(se.user_agent, '')",
			"se.details", "se.created_at",
			"COALESCE(u.email, '') AS user_email",
			"COALESCE(a.email, '') AS actor_email",
		).
			From("security_events se").
			LeftJoin("users u ON u.id = se.user_id").
			LeftJoin("users a ON a.id = se.actor_id"),
		filter,
	).
		OrderBy("se.created_at DESC", "se.id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// GetStats computes the dashboard aggregates. Time buckets are grouped in
// SQL so the work stays close to the data.
func (r *eventRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events`,
	).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE event_type = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR)`,
		EventLoginFailed,
	).Scan(&stats.FailedLogins24h); err != nil {
		return nil, fmt.Errorf("counting failed logins: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE event_type = ? AND created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR)`,
		EventLoginSuccess,
	).Scan(&stats.Logins24h); err != nil {
		return nil, fmt.Errorf("counting successful logins: %w", err)
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ip_address) FROM security_events WHERE created_at >= DATE_SUB(NOW(), INTERVAL 24 HOUR) AND ip_address != ''`,
	).Scan(&stats.UniqueIPs24h); err != nil {
		return nil, fmt.Errorf("counting unique IPs: %w", err)
	}

	var err error
	if stats.ByDay, err = r.bucketCounts(ctx,
		`SELECT DATE_FORMAT(created_at, '%Y-%m-%d'), COUNT(*)
		 FROM security_events
		 WHERE created_at >= DATE_SUB(NOW(), INTERVAL 30 DAY)
		 GROUP BY 1 ORDER BY 1`,
	); err != nil {
		return nil, fmt.Errorf("counting events by day: %w", err)
	}

	if stats.ByWeek, err = r.bucketCounts(ctx,
		`SELECT DATE_FORMAT(created_at, '%x-%v'), COUNT(*)
		 FROM security_events
		 WHERE created_at >= DATE_SUB(NOW(), INTERVAL 12 WEEK)
		 GROUP BY 1 ORDER BY 1`,
	); err != nil {
		return nil, fmt.Errorf("counting events by week: %w", err)
	}

	if stats.ByMonth, err = r.bucketCounts(ctx,
		`SELECT DATE_FORMAT(created_at, '%Y-%m'), COUNT(*)
		 FROM security_events
		 WHERE created_at >= DATE_SUB(NOW(), INTERVAL 12 MONTH)
		 GROUP BY 1 ORDER BY 1`,
	); err != nil {
		return nil, fmt.Errorf("counting events by month: %w", err)
	}

	typeRows, err := r.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM security_events GROUP BY event_type ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting events by type: %w", err)
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var tc TypeCount
		if err := typeRows.Scan(&tc.EventType, &tc.Count); err != nil {
			return nil, fmt.Errorf("scanning type count: %w", err)
		}
		stats.ByType = append(stats.ByType, tc)
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating type counts: %w", err)
	}

	recent, _, err := r.List(ctx, Filter{Severity: SeverityHigh}, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("listing recent high-severity events: %w", err)
	}
	stats.RecentHigh = recent

	return stats, nil
}

// bucketCounts runs a two-column (bucket, count) aggregation query.
func (r *eventRepository) bucketCounts(ctx context.Context, query string) ([]BucketCount, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []BucketCount
	for rows.Next() {
		var bc BucketCount
		if err := rows.Scan(&bc.Bucket, &bc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, bc)
	}
	return counts, rows.Err()
}

// scanEventRows scans rows from a security_events query. Expects columns:
// id, event_type, user_id, actor_id, ip_address, user_agent, details,
// created_at, user_email, actor_email.
func scanEventRows(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var detailsJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.UserID, &e.ActorID,
			&e.IPAddress, &e.UserAgent, &detailsJSON, &e.CreatedAt,
			&e.UserEmail, &e.ActorEmail,
		); err != nil {
			return nil, fmt.Errorf("scanning security event: %w", err)
		}

		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				// Non-fatal: surface the problem without breaking the feed.
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}

		e.Severity = SeverityOf(e.EventType)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating security events: %w", err)
	}

	return events, nil
}
