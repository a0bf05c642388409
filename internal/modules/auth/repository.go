package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// UserRepository defines the data access contract for accounts.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Insert(ctx context.Context, u *User) error
	List(ctx context.Context) ([]User, error)

	// IncrementFailedAttempts bumps the counter atomically and returns
	// the new value, so concurrent failures against one account each see
	// a distinct count.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)

	// SetLock marks the account locked until the given time.
	SetLock(ctx context.Context, id string, until time.Time) error

	// ClearLock resets the failed counter and removes any lock.
	ClearLock(ctx context.Context, id string) error

	// UpdatePassword stores a new encoded credential and its change time.
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
}

// userRepository implements UserRepository using MariaDB.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by MariaDB.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, display_name, is_admin, password_hash,
	failed_attempts, locked_until, password_changed_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.IsAdmin, &u.PasswordHash,
		&u.FailedAttempts, &u.LockedUntil, &u.PasswordChangedAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail looks up an account by normalized email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying user by email: %w", err))
	}
	return u, nil
}

// GetByID looks up an account by id.
func (r *userRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying user by id: %w", err))
	}
	return u, nil
}

// Insert creates an account. Duplicate emails surface as a conflict.
func (r *userRepository) Insert(ctx context.Context, u *User) error {
	query := `INSERT INTO users (id, email, display_name, is_admin, password_hash, password_changed_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Email, u.DisplayName, u.IsAdmin, u.PasswordHash, u.PasswordChangedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return apperror.NewConflict("an account with this email already exists")
		}
		return apperror.NewInternal(fmt.Errorf("inserting user: %w", err))
	}
	return nil
}

// List returns all accounts ordered by email.
func (r *userRepository) List(ctx context.Context) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY email`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing users: %w", err))
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("scanning user: %w", err))
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("iterating users: %w", err))
	}
	return users, nil
}

// IncrementFailedAttempts bumps the counter inside a transaction so the
// read-back sees this increment and no later one.
func (r *userRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("beginning increment tx: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET failed_attempts = failed_attempts + 1 WHERE id = ?`, id); err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("incrementing failed attempts: %w", err))
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT failed_attempts FROM users WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("reading failed attempts: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("committing increment tx: %w", err))
	}
	return count, nil
}

// SetLock marks the account locked until the given time.
func (r *userRepository) SetLock(ctx context.Context, id string, until time.Time) error {
	query := `UPDATE users SET locked_until = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, until, id); err != nil {
		return apperror.NewInternal(fmt.Errorf("locking account: %w", err))
	}
	return nil
}

// ClearLock resets the failed counter and removes any lock.
func (r *userRepository) ClearLock(ctx context.Context, id string) error {
	query := `UPDATE users SET failed_attempts = 0, locked_until = NULL WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return apperror.NewInternal(fmt.Errorf("unlocking account: %w", err))
	}
	return nil
}

// UpdatePassword stores a new encoded credential.
func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	query := `UPDATE users SET password_hash = ?, password_changed_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, passwordHash, changedAt, id); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}
	return nil
}

// NormalizeEmail lowercases and trims an email identifier so lookups and
// miss counters agree on the key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
