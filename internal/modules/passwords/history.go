package passwords

import (
	"context"
	"log/slog"

	"github.com/oakmere/clientdesk/internal/hasher"
)

// History manages the per-user archive of prior credential hashes.
type History struct {
	repo HistoryRepository
}

// NewHistory creates a new history service.
func NewHistory(repo HistoryRepository) *History {
	return &History{repo: repo}
}

// Append archives an encoded credential and trims the archive to the
// configured depth. The archive write must succeed; the purge is
// best-effort cleanup and only logs on failure. Depth 0 disables
// retention: nothing new is archived and rows left over from a deeper
// policy are cleared, so the archive stays bounded by the active depth.
func (h *History) Append(ctx context.Context, userID, encoded string, depth int) error {
	if depth <= 0 {
		h.purge(ctx, userID, 0)
		return nil
	}

	if err := h.repo.Insert(ctx, userID, encoded); err != nil {
		return err
	}
	h.purge(ctx, userID, depth)
	return nil
}

func (h *History) purge(ctx context.Context, userID string, keep int) {
	if _, err := h.repo.PurgeBeyond(ctx, userID, keep); err != nil {
		slog.Warn("password history purge failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// IsReused reports whether candidate matches any of the user's depth most
// recent archived credentials. Depth 0 disables the check entirely. The
// scan short-circuits on the first match; each comparison runs the full
// PBKDF2 derivation at the iteration count recorded in the entry.
func (h *History) IsReused(ctx context.Context, userID, candidate string, depth int) (bool, error) {
	if depth <= 0 {
		return false, nil
	}

	entries, err := h.repo.ListRecent(ctx, userID, depth)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if hasher.Verify(candidate, e.PasswordHash) {
			return true, nil
		}
	}
	return false, nil
}
