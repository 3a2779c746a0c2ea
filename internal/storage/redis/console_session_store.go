package redis

import (
	"context"
	"time"

	"github.com/goodtune/playdesk/internal/storage"
	"github.com/redis/go-redis/v9"
)

type consoleSessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// Get retrieves a console session by ID
func (s *consoleSessionStore) Get(ctx context.Context, id string) (*storage.ConsoleSession, error) {
	data, err := s.client.HGetAll(ctx, consoleSessionPrefix+id).Result()
	if err != nil {
		return nil, err
	}

	session, err := parseConsoleSession(data)
	if err != nil {
		return nil, err
	}

	if session.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}

	return session, nil
}

// Put creates or replaces a console session; the key expires with the session
func (s *consoleSessionStore) Put(ctx context.Context, session storage.ConsoleSession) error {
	script := redis.NewScript(putConsoleSessionScript)

	var expiresMs int64
	if !session.ExpiresAt.IsZero() {
		expiresMs = session.ExpiresAt.UnixMilli()
	}

	keys := []string{consoleSessionPrefix + session.ID, consoleSessionIndex}
	args := []interface{}{
		session.ID,
		session.UserID,
		session.Email,
		session.Name,
		session.Role,
		session.BranchID,
		session.Token,
		session.CreatedAt.Format(time.RFC3339Nano),
		formatOptionalTime(session.ExpiresAt),
		expiresMs,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Delete removes a console session
func (s *consoleSessionStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, consoleSessionPrefix+id)
	pipe.ZRem(ctx, consoleSessionIndex, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Count returns the number of unexpired console sessions
func (s *consoleSessionStore) Count(ctx context.Context) (int, error) {
	script := redis.NewScript(countConsoleSessionsScript)

	n, err := script.Run(ctx, s.client, []string{consoleSessionIndex}, s.now().UnixMilli()).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
