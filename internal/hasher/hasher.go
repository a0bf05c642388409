// Package hasher implements the PBKDF2 credential hashing primitive used
// for all password storage in Clientdesk. Hashing is deliberately slow and
// CPU-bound -- the iteration count is the brute-force throttle, so lowering
// it below the safety floor is a rejected configuration, never a silent clamp.
package hasher

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Algorithm identifies the key-derivation function and digest. Stored with
// every credential so the scheme can be migrated without guessing.
const Algorithm = "pbkdf2-sha512"

const (
	// saltLength is the random salt size in bytes (256 bits).
	saltLength = 32

	// keyLength is the derived key size in bytes (512 bits).
	keyLength = 64

	// MinIterations is the safety floor. Configurations below this are
	// rejected outright.
	MinIterations = 100_000

	// MaxIterations bounds the performance cost a misconfiguration can
	// impose on every login.
	MaxIterations = 5_000_000

	// DefaultIterations follows current OWASP guidance for PBKDF2-SHA512.
	DefaultIterations = 210_000
)

// Record is a freshly derived credential: algorithm, iteration count, salt,
// and derived key. Records are immutable once created; a password change
// produces a new Record with a new salt.
type Record struct {
	Algorithm  string
	Iterations int
	Salt       []byte
	Hash       []byte
}

// Encode serializes the record into the stored string form:
//
//	$pbkdf2-sha512$i=<iterations>$<base64 salt>$<base64 hash>
//
// All parameters travel with the hash, so verification never depends on
// the currently configured iteration count.
func (r *Record) Encode() string {
	return fmt.Sprintf("$%s$i=%d$%s$%s",
		r.Algorithm,
		r.Iterations,
		base64.RawStdEncoding.EncodeToString(r.Salt),
		base64.RawStdEncoding.EncodeToString(r.Hash),
	)
}

// Hasher derives credentials with a fixed, validated iteration count.
type Hasher struct {
	iterations int
}

// New creates a Hasher with the given iteration count. Counts outside the
// [MinIterations, MaxIterations] band are a configuration error.
func New(iterations int) (*Hasher, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("hasher: iteration count %d below safety floor %d", iterations, MinIterations)
	}
	if iterations > MaxIterations {
		return nil, fmt.Errorf("hasher: iteration count %d above maximum %d", iterations, MaxIterations)
	}
	return &Hasher{iterations: iterations}, nil
}

// Iterations returns the configured iteration count.
func (h *Hasher) Iterations() int {
	return h.iterations
}

// Hash derives a new credential record for the password with a fresh random
// salt. Salts are never reused, even for identical passwords.
func (h *Hasher) Hash(password string) (*Record, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, h.iterations, keyLength, sha512.New)

	return &Record{
		Algorithm:  Algorithm,
		Iterations: h.iterations,
		Salt:       salt,
		Hash:       key,
	}, nil
}

// Verify checks a plaintext password against a stored encoded credential.
// It recomputes the derivation with the *stored* salt and iteration count
// and compares in constant time. Malformed stored values return false --
// a corrupted credential fails closed, it never throws into the request
// pipeline.
func Verify(password, encoded string) bool {
	rec, ok := parse(encoded)
	if !ok {
		return false
	}

	computed := pbkdf2.Key([]byte(password), rec.Salt, rec.Iterations, len(rec.Hash), sha512.New)

	return subtle.ConstantTimeCompare(rec.Hash, computed) == 1
}

// parse decodes the stored credential form. Returns ok=false for anything
// that does not round-trip cleanly: wrong field count, unknown algorithm,
// non-numeric iteration count, or undecodable base64.
func parse(encoded string) (*Record, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" {
		return nil, false
	}
	if parts[1] != Algorithm {
		return nil, false
	}

	iterStr, ok := strings.CutPrefix(parts[2], "i=")
	if !ok {
		return nil, false
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 || iterations > MaxIterations {
		// A stored count above the configurable maximum cannot have been
		// written by this code; treat it as tampering rather than letting
		// it dictate the CPU spent per verification.
		return nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(salt) == 0 {
		return nil, false
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(hash) == 0 {
		return nil, false
	}

	return &Record{
		Algorithm:  parts[1],
		Iterations: iterations,
		Salt:       salt,
		Hash:       hash,
	}, true
}
