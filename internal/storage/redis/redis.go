package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/playdesk/internal/config"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	scanStatePrefix      = "playdesk:scan:"
	consoleSessionPrefix = "playdesk:console:session:"
	consoleSessionIndex  = "playdesk:console:sessions"
	snapshotPrefix       = "playdesk:feed:snapshot:"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client         *redis.Client
	scanStates     *scanStateStore
	consoleSession *consoleSessionStore
	snapshots      *snapshotStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Port 0 means Host already carries the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:         client,
		scanStates:     &scanStateStore{client: client},
		consoleSession: &consoleSessionStore{client: client, now: time.Now},
		snapshots:      &snapshotStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// ScanStates returns the ScanStateStore implementation
func (s *Store) ScanStates() storage.ScanStateStore {
	return s.scanStates
}

// ConsoleSessions returns the ConsoleSessionStore implementation
func (s *Store) ConsoleSessions() storage.ConsoleSessionStore {
	return s.consoleSession
}

// Snapshots returns the SnapshotStore implementation
func (s *Store) Snapshots() storage.SnapshotStore {
	return s.snapshots
}
