package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// Repository defines the data access contract for client records.
type Repository interface {
	Insert(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	Delete(ctx context.Context, id string) error

	// List returns a page of clients plus the total match count. A
	// non-empty search matches name or company.
	List(ctx context.Context, search string, limit, offset int) ([]Client, int, error)
}

// repository implements Repository using MariaDB.
type repository struct {
	db *sql.DB
}

// NewRepository creates a new client repository backed by MariaDB.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Insert creates a client record.
func (r *repository) Insert(ctx context.Context, c *Client) error {
	query := `INSERT INTO clients (id, name, email, phone, company, notes, created_by)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Email, c.Phone, c.Company, c.Notes, c.CreatedBy)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("inserting client: %w", err))
	}
	return nil
}

const clientColumns = "id, name, email, phone, company, notes, created_by, created_at, updated_at"

// GetByID retrieves one client.
func (r *repository) GetByID(ctx context.Context, id string) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = ?`

	var c Client
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Notes,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("client not found")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying client: %w", err))
	}
	return &c, nil
}

// Update rewrites a client's mutable fields.
func (r *repository) Update(ctx context.Context, c *Client) error {
	query := `UPDATE clients SET name = ?, email = ?, phone = ?, company = ?, notes = ?
	          WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		c.Name, c.Email, c.Phone, c.Company, c.Notes, c.ID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("updating client: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("client not found")
	}
	return nil
}

// Delete removes a client record.
func (r *repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting client: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("client not found")
	}
	return nil
}

// List returns a page of clients with the total match count.
func (r *repository) List(ctx context.Context, search string, limit, offset int) ([]Client, int, error) {
	base := sq.Select(clientColumns).From("clients")
	countBase := sq.Select("COUNT(*)").From("clients")

	if search != "" {
		pattern := "%" + search + "%"
		cond := sq.Or{
			sq.Like{"name": pattern},
			sq.Like{"company": pattern},
		}
		base = base.Where(cond)
		countBase = countBase.Where(cond)
	}

	countQuery, countArgs, err := countBase.ToSql()
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("building client count query: %w", err))
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("counting clients: %w", err))
	}

	query, args, err := base.
		OrderBy("name ASC", "id ASC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("building client list query: %w", err))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing clients: %w", err))
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Notes,
			&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, apperror.NewInternal(fmt.Errorf("scanning client: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("iterating clients: %w", err))
	}
	return out, total, nil
}
