package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oakmere/clientdesk/internal/apperror"
)

// keyPrefix namespaces session keys in Redis.
const keyPrefix = "session:"

// tokenBytes yields a 64-character hex token.
const tokenBytes = 32

// ErrNotFound is returned when a token resolves to no session, whether it
// never existed, expired, or was destroyed. Callers must not distinguish.
var ErrNotFound = errors.New("session not found")

// Store persists sessions in Redis. The TTL passed to mutating calls is
// the hard backstop; the idle timeout is enforced by the guard from
// LastSeenAt, so the TTL only has to outlive it.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// NewStore creates a session store on the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

// newToken returns a fresh cryptographically random session token.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", apperror.NewInternal(fmt.Errorf("generating session token: %w", err))
	}
	return hex.EncodeToString(b), nil
}

// Create writes a new session bound to the given fingerprint and returns
// its token. Started/seen/reauth timestamps are all set to now: a fresh
// login is by definition a fresh proof of password.
func (s *Store) Create(ctx context.Context, sess Session, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	sess.StartedAt = now
	sess.LastSeenAt = now
	sess.LastReauthAt = now

	if err := s.write(ctx, token, &sess, ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Get loads the session for a token.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("loading session: %w", err))
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// An undecodable value is treated as absent rather than surfaced;
		// the caller re-authenticates and the bad key ages out via TTL.
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Touch refreshes LastSeenAt and the TTL backstop.
func (s *Store) Touch(ctx context.Context, token string, sess *Session, ttl time.Duration) error {
	sess.LastSeenAt = s.now().UTC()
	return s.write(ctx, token, sess, ttl)
}

// RefreshReauth marks the session as freshly re-authenticated. Only the
// explicit re-auth endpoint calls this; ordinary activity never does.
func (s *Store) RefreshReauth(ctx context.Context, token string, ttl time.Duration) error {
	sess, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	sess.LastReauthAt = s.now().UTC()
	return s.write(ctx, token, sess, ttl)
}

// Destroy deletes a session. Deleting an absent token is not an error.
func (s *Store) Destroy(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, keyPrefix+token).Err(); err != nil {
		return apperror.NewInternal(fmt.Errorf("destroying session: %w", err))
	}
	return nil
}

// Regenerate replaces the session's token while keeping the user logged
// in. The old key is deleted first so the old token is dead even if the
// new write fails. With preserveFingerprint the bound fingerprint and
// StartedAt carry forward (post-login privilege change); without it the
// session rebinds to the request's fingerprint (fresh login).
func (s *Store) Regenerate(ctx context.Context, token string, preserveFingerprint bool, ip, userAgent string, ttl time.Duration) (string, *Session, error) {
	sess, err := s.Get(ctx, token)
	if err != nil {
		return "", nil, err
	}
	if err := s.Destroy(ctx, token); err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	if !preserveFingerprint {
		sess.IP = ip
		sess.UserAgent = userAgent
		sess.StartedAt = now
	}
	sess.LastSeenAt = now

	newTok, err := newToken()
	if err != nil {
		return "", nil, err
	}
	if err := s.write(ctx, newTok, sess, ttl); err != nil {
		return "", nil, err
	}
	return newTok, sess, nil
}

// write marshals and stores a session under its key.
func (s *Store) write(ctx context.Context, token string, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("encoding session: %w", err))
	}
	if err := s.rdb.Set(ctx, keyPrefix+token, raw, ttl).Err(); err != nil {
		return apperror.NewInternal(fmt.Errorf("storing session: %w", err))
	}
	return nil
}
