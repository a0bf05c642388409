package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// MissCounter tracks failed logins against identifiers that match no
// account. Without it, an attacker could tell real accounts apart by the
// presence of the progressive delay. Counts live in Redis under a hash of
// the identifier, never the identifier itself, and age out after the
// lockout window.
type MissCounter struct {
	rdb *redis.Client
}

// NewMissCounter creates a miss counter on the given Redis client.
func NewMissCounter(rdb *redis.Client) *MissCounter {
	return &MissCounter{rdb: rdb}
}

// missKey hashes the normalized identifier.
func missKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "login:miss:" + hex.EncodeToString(sum[:])
}

// Bump increments the miss count for an identifier and returns the new
// value. The window restarts on each miss, mirroring how a real account's
// counter only resets on success or lockout expiry.
func (m *MissCounter) Bump(ctx context.Context, email string, window time.Duration) (int, error) {
	key := missKey(email)

	count, err := m.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("bumping miss counter: %w", err))
	}
	if err := m.rdb.Expire(ctx, key, window).Err(); err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("expiring miss counter: %w", err))
	}
	return int(count), nil
}
