// Package memory provides an in-process storage.Store for single-instance
// deployments and the terminal desk client. Entries are bounded by an
// expirable LRU; per-entry expiry is checked on read.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/playdesk/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Options bounds the in-memory caches.
type Options struct {
	Size   int
	MaxTTL time.Duration
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store implements storage.Store in memory.
type Store struct {
	scanStates *scanStateStore
	sessions   *consoleSessionStore
	snapshots  *snapshotStore
}

// New creates a new in-memory store.
func New(opts Options) *Store {
	if opts.Size <= 0 {
		opts.Size = 1024
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = 24 * time.Hour
	}

	return &Store{
		scanStates: &scanStateStore{
			cache: expirable.NewLRU[string, entry[[]byte]](opts.Size, nil, opts.MaxTTL),
			now:   time.Now,
		},
		sessions: &consoleSessionStore{
			cache: expirable.NewLRU[string, entry[storage.ConsoleSession]](opts.Size, nil, opts.MaxTTL),
			now:   time.Now,
		},
		snapshots: &snapshotStore{
			cache: expirable.NewLRU[string, entry[storage.FeedSnapshot]](opts.Size, nil, opts.MaxTTL),
			now:   time.Now,
		},
	}
}

// Close purges all entries.
func (s *Store) Close() error {
	s.scanStates.cache.Purge()
	s.sessions.cache.Purge()
	s.snapshots.cache.Purge()
	return nil
}

// ScanStates returns the ScanStateStore implementation.
func (s *Store) ScanStates() storage.ScanStateStore {
	return s.scanStates
}

// ConsoleSessions returns the ConsoleSessionStore implementation.
func (s *Store) ConsoleSessions() storage.ConsoleSessionStore {
	return s.sessions
}

// Snapshots returns the SnapshotStore implementation.
func (s *Store) Snapshots() storage.SnapshotStore {
	return s.snapshots
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

type scanStateStore struct {
	cache *expirable.LRU[string, entry[[]byte]]
	now   func() time.Time
}

func (s *scanStateStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.cache.Get(key)
	if !ok || e.expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *scanStateStore) Put(_ context.Context, key string, data []byte, ttl time.Duration) error {
	value := make([]byte, len(data))
	copy(value, data)
	s.cache.Add(key, entry[[]byte]{value: value, expiresAt: expiryFor(s.now(), ttl)})
	return nil
}

func (s *scanStateStore) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

type consoleSessionStore struct {
	cache *expirable.LRU[string, entry[storage.ConsoleSession]]
	now   func() time.Time
}

func (s *consoleSessionStore) Get(_ context.Context, id string) (*storage.ConsoleSession, error) {
	e, ok := s.cache.Get(id)
	if !ok || e.expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	session := e.value
	return &session, nil
}

func (s *consoleSessionStore) Put(_ context.Context, session storage.ConsoleSession) error {
	s.cache.Add(session.ID, entry[storage.ConsoleSession]{value: session, expiresAt: session.ExpiresAt})
	return nil
}

func (s *consoleSessionStore) Delete(_ context.Context, id string) error {
	s.cache.Remove(id)
	return nil
}

func (s *consoleSessionStore) Count(_ context.Context) (int, error) {
	now := s.now()
	n := 0
	for _, e := range s.cache.Values() {
		if !e.expired(now) {
			n++
		}
	}
	return n, nil
}

type snapshotStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, entry[storage.FeedSnapshot]]
	now   func() time.Time
}

func (s *snapshotStore) Get(_ context.Context, branchID string) (*storage.FeedSnapshot, error) {
	e, ok := s.cache.Get(branchID)
	if !ok || e.expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	snapshot := e.value
	return &snapshot, nil
}

func (s *snapshotStore) Put(_ context.Context, snapshot storage.FeedSnapshot, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.cache.Peek(snapshot.BranchID); ok && current.value.FetchedAt.After(snapshot.FetchedAt) {
		return nil
	}
	if len(snapshot.Sessions) == 0 {
		snapshot.Sessions = []byte("[]")
	}
	s.cache.Add(snapshot.BranchID, entry[storage.FeedSnapshot]{value: snapshot, expiresAt: expiryFor(s.now(), ttl)})
	return nil
}
