package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// policyRowID pins the singleton row. There is deliberately no way to
// create a second policy row through this repository.
const policyRowID = 1

// PolicyRepository defines the data access contract for the security
// policy row.
type PolicyRepository interface {
	// Get returns the policy row, or NotFound if it has never been written.
	Get(ctx context.Context) (*Policy, error)

	// Save upserts the policy row.
	Save(ctx context.Context, p *Policy) error
}

// policyRepository implements PolicyRepository using MariaDB.
type policyRepository struct {
	db *sql.DB
}

// NewPolicyRepository creates a new policy repository backed by MariaDB.
func NewPolicyRepository(db *sql.DB) PolicyRepository {
	return &policyRepository{db: db}
}

// Get retrieves the singleton policy row.
func (r *policyRepository) Get(ctx context.Context) (*Policy, error) {
	query := `SELECT max_login_attempts, lockout_minutes, password_min_length,
	                 require_uppercase, require_lowercase, require_numbers, require_special,
	                 password_history_depth, password_expiry_days, hash_iterations,
	                 session_timeout_minutes, strict_fingerprint, updated_at
	          FROM security_settings WHERE id = ?`

	var p Policy
	err := r.db.QueryRowContext(ctx, query, policyRowID).Scan(
		&p.MaxLoginAttempts, &p.LockoutMinutes, &p.PasswordMinLength,
		&p.RequireUppercase, &p.RequireLowercase, &p.RequireNumbers, &p.RequireSpecial,
		&p.PasswordHistoryDepth, &p.PasswordExpiryDays, &p.HashIterations,
		&p.SessionTimeoutMinutes, &p.StrictFingerprint, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("security policy not configured")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying security policy: %w", err))
	}
	return &p, nil
}

// Save upserts the singleton policy row using
// INSERT ... ON DUPLICATE KEY UPDATE.
func (r *policyRepository) Save(ctx context.Context, p *Policy) error {
	query := `INSERT INTO security_settings
	              (id, max_login_attempts, lockout_minutes, password_min_length,
	               require_uppercase, require_lowercase, require_numbers, require_special,
	               password_history_depth, password_expiry_days, hash_iterations,
	               session_timeout_minutes, strict_fingerprint)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON DUPLICATE KEY UPDATE
	              max_login_attempts = VALUES(max_login_attempts),
	              lockout_minutes = VALUES(lockout_minutes),
	              password_min_length = VALUES(password_min_length),
	              require_uppercase = VALUES(require_uppercase),
	              require_lowercase = VALUES(require_lowercase),
	              require_numbers = VALUES(require_numbers),
	              require_special = VALUES(require_special),
	              password_history_depth = VALUES(password_history_depth),
	              password_expiry_days = VALUES(password_expiry_days),
	              hash_iterations = VALUES(hash_iterations),
	              session_timeout_minutes = VALUES(session_timeout_minutes),
	              strict_fingerprint = VALUES(strict_fingerprint)`

	_, err := r.db.ExecContext(ctx, query,
		policyRowID,
		p.MaxLoginAttempts, p.LockoutMinutes, p.PasswordMinLength,
		p.RequireUppercase, p.RequireLowercase, p.RequireNumbers, p.RequireSpecial,
		p.PasswordHistoryDepth, p.PasswordExpiryDays, p.HashIterations,
		p.SessionTimeoutMinutes, p.StrictFingerprint,
	)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("upserting security policy: %w", err))
	}
	return nil
}
