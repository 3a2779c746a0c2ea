package redis

import (
	"context"
	"time"

	"github.com/goodtune/playdesk/internal/storage"
	"github.com/redis/go-redis/v9"
)

type snapshotStore struct {
	client *redis.Client
}

// Get retrieves the last snapshot stored for a branch
func (s *snapshotStore) Get(ctx context.Context, branchID string) (*storage.FeedSnapshot, error) {
	data, err := s.client.HGetAll(ctx, snapshotPrefix+branchID).Result()
	if err != nil {
		return nil, err
	}

	return parseFeedSnapshot(data)
}

// Put stores a snapshot unless a newer one for the same branch already exists
func (s *snapshotStore) Put(ctx context.Context, snapshot storage.FeedSnapshot, ttl time.Duration) error {
	script := redis.NewScript(putSnapshotScript)

	sessions := string(snapshot.Sessions)
	if sessions == "" {
		sessions = "[]"
	}

	keys := []string{snapshotPrefix + snapshot.BranchID}
	args := []interface{}{
		snapshot.BranchID,
		sessions,
		snapshot.FetchedAt.Format(time.RFC3339Nano),
		snapshot.FetchedAt.UnixMilli(),
		ttl.Milliseconds(),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}
