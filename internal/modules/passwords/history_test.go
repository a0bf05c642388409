package passwords

import (
	"context"
	"testing"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/hasher"
)

func TestAppendArchivesThenPurges(t *testing.T) {
	var inserted string
	var purgedKeep int
	repo := &mockHistoryRepository{
		insertFunc: func(ctx context.Context, userID, hash string) error {
			inserted = hash
			return nil
		},
		purgeFunc: func(ctx context.Context, userID string, keep int) (int64, error) {
			purgedKeep = keep
			return 2, nil
		},
	}
	h := NewHistory(repo)

	if err := h.Append(context.Background(), "user-1", "$pbkdf2-sha512$i=100000$c$d", 5); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if inserted == "" {
		t.Fatal("expected Insert")
	}
	if purgedKeep != 5 {
		t.Errorf("expected purge to keep 5, got %d", purgedKeep)
	}
}

func TestAppendClearsArchiveAtDepthZero(t *testing.T) {
	purgedKeep := -1
	repo := &mockHistoryRepository{
		insertFunc: func(ctx context.Context, userID, hash string) error {
			t.Fatal("nothing must be archived at depth 0")
			return nil
		},
		purgeFunc: func(ctx context.Context, userID string, keep int) (int64, error) {
			purgedKeep = keep
			return 3, nil
		},
	}
	h := NewHistory(repo)

	if err := h.Append(context.Background(), "user-1", "$pbkdf2-sha512$i=100000$c$d", 0); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if purgedKeep != 0 {
		t.Errorf("expected purge to keep 0, got %d", purgedKeep)
	}
}

func TestAppendSurvivesPurgeFailure(t *testing.T) {
	repo := &mockHistoryRepository{
		purgeFunc: func(ctx context.Context, userID string, keep int) (int64, error) {
			return 0, apperror.NewInternal(context.DeadlineExceeded)
		},
	}
	h := NewHistory(repo)

	if err := h.Append(context.Background(), "user-1", "$pbkdf2-sha512$i=100000$c$d", 5); err != nil {
		t.Errorf("purge failure must not fail Append: %v", err)
	}
}

func TestAppendFailsWhenInsertFails(t *testing.T) {
	repo := &mockHistoryRepository{
		insertFunc: func(ctx context.Context, userID, hash string) error {
			return apperror.NewInternal(context.DeadlineExceeded)
		},
	}
	h := NewHistory(repo)

	if err := h.Append(context.Background(), "user-1", "$pbkdf2-sha512$i=100000$c$d", 5); err == nil {
		t.Fatal("expected error when the archive write fails")
	}
}

func TestIsReusedShortCircuits(t *testing.T) {
	hsh, err := hasher.New(hasher.MinIterations)
	if err != nil {
		t.Fatalf("hasher.New: %v", err)
	}
	first, err := hsh.Hash("Vermilion+Harbor93")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := hsh.Hash("Cobalt&Meridian41")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	repo := &mockHistoryRepository{
		listRecentFunc: func(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
			if limit != 5 {
				t.Errorf("expected limit 5, got %d", limit)
			}
			return []HistoryEntry{
				{PasswordHash: first.Encode()},
				{PasswordHash: second.Encode()},
			}, nil
		},
	}
	h := NewHistory(repo)

	reused, err := h.IsReused(context.Background(), "user-1", "Vermilion+Harbor93", 5)
	if err != nil {
		t.Fatalf("IsReused: %v", err)
	}
	if !reused {
		t.Error("expected reuse match")
	}

	reused, err = h.IsReused(context.Background(), "user-1", "Totally-Fresh-Phrase7", 5)
	if err != nil {
		t.Fatalf("IsReused: %v", err)
	}
	if reused {
		t.Error("expected no reuse match")
	}
}

func TestIsReusedDisabledAtDepthZero(t *testing.T) {
	repo := &mockHistoryRepository{
		listRecentFunc: func(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
			t.Fatal("history must not be queried at depth 0")
			return nil, nil
		},
	}
	h := NewHistory(repo)

	reused, err := h.IsReused(context.Background(), "user-1", "anything", 0)
	if err != nil {
		t.Fatalf("IsReused: %v", err)
	}
	if reused {
		t.Error("depth 0 must always report false")
	}
}
