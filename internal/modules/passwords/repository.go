package passwords

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// HistoryRepository defines the data access contract for the password
// history table.
type HistoryRepository interface {
	// Insert archives an encoded credential for the user.
	Insert(ctx context.Context, userID, passwordHash string) error

	// ListRecent returns up to limit entries, newest first. Ties on
	// created_at break by id so insertion order is preserved.
	ListRecent(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)

	// PurgeBeyond deletes all entries past the keep newest ones and
	// returns the number removed. Keep 0 clears the user's archive.
	PurgeBeyond(ctx context.Context, userID string, keep int) (int64, error)
}

// historyRepository implements HistoryRepository using MariaDB.
type historyRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new history repository backed by MariaDB.
func NewHistoryRepository(db *sql.DB) HistoryRepository {
	return &historyRepository{db: db}
}

// Insert archives an encoded credential.
func (r *historyRepository) Insert(ctx context.Context, userID, passwordHash string) error {
	query := `INSERT INTO password_history (user_id, password_hash) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, passwordHash); err != nil {
		return apperror.NewInternal(fmt.Errorf("inserting password history: %w", err))
	}
	return nil
}

// ListRecent returns the newest entries for a user.
func (r *historyRepository) ListRecent(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	query := `SELECT id, user_id, password_hash, created_at
	          FROM password_history
	          WHERE user_id = ?
	          ORDER BY created_at DESC, id DESC
	          LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying password history: %w", err))
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("scanning password history: %w", err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("iterating password history: %w", err))
	}
	return entries, nil
}

// PurgeBeyond trims a user's history to the keep newest entries. MariaDB
// cannot delete from a table it selects from directly, hence the derived
// table.
func (r *historyRepository) PurgeBeyond(ctx context.Context, userID string, keep int) (int64, error) {
	query := `DELETE FROM password_history
	          WHERE user_id = ?
	            AND id NOT IN (
	                SELECT id FROM (
	                    SELECT id FROM password_history
	                    WHERE user_id = ?
	                    ORDER BY created_at DESC, id DESC
	                    LIMIT ?
	                ) AS kept
	            )`

	res, err := r.db.ExecContext(ctx, query, userID, userID, keep)
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("purging password history: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("purging password history: %w", err))
	}
	return n, nil
}
