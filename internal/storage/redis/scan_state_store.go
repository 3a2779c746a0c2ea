package redis

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/playdesk/internal/storage"
	"github.com/redis/go-redis/v9"
)

type scanStateStore struct {
	client *redis.Client
}

// Get returns the stored scan state for key
func (s *scanStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, scanStatePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put overwrites the scan state for key
func (s *scanStateStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, scanStatePrefix+key, data, ttl).Err()
}

// Delete removes the scan state for key
func (s *scanStateStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, scanStatePrefix+key).Err()
}
