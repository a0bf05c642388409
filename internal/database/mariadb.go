// Package database opens the MariaDB pool and the Redis client used by
// the rest of Clientdesk. Connections are established once at startup,
// verified before use, and handed to the app by injection; nothing else
// in the codebase opens its own.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the mysql driver with database/sql.
	_ "github.com/go-sql-driver/mysql"

	"github.com/oakmere/clientdesk/internal/config"
)

const (
	pingTimeout  = 5 * time.Second
	pingAttempts = 10
	maxBackoff   = 30 * time.Second
)

// NewMariaDB opens the connection pool and waits for the server to answer
// a ping before returning it.
func NewMariaDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitForPing(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// waitForPing retries with exponential backoff. In a compose cold-start
// the database container is routinely a few seconds behind the app.
func waitForPing(db *sql.DB) error {
	backoff := time.Second
	var lastErr error

	for attempt := 1; attempt <= pingAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		lastErr = db.PingContext(ctx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}

		slog.Warn("waiting for mariadb",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", lastErr.Error()),
		)
		time.Sleep(backoff)
		backoff = min(backoff*2, maxBackoff)
	}

	return fmt.Errorf("pinging mariadb after %d attempts: %w", pingAttempts, lastErr)
}
