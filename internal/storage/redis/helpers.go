package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/playdesk/internal/storage"
)

// parseConsoleSession converts a Redis hash to ConsoleSession
func parseConsoleSession(data map[string]string) (*storage.ConsoleSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	var expiresAt time.Time
	if v := data["expires_at"]; v != "" {
		expiresAt, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
	}

	return &storage.ConsoleSession{
		ID:        data["id"],
		UserID:    data["user_id"],
		Email:     data["email"],
		Name:      data["name"],
		Role:      data["role"],
		BranchID:  data["branch_id"],
		Token:     data["token"],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// parseFeedSnapshot converts a Redis hash to FeedSnapshot
func parseFeedSnapshot(data map[string]string) (*storage.FeedSnapshot, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	fetchedAt, err := time.Parse(time.RFC3339Nano, data["fetched_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse fetched_at: %w", err)
	}

	sessions := json.RawMessage(data["sessions"])
	if !json.Valid(sessions) {
		return nil, fmt.Errorf("failed to parse sessions: invalid JSON")
	}

	return &storage.FeedSnapshot{
		BranchID:  data["branch_id"],
		Sessions:  sessions,
		FetchedAt: fetchedAt,
	}, nil
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
