package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
// Everything kept here is console-local state; customers, sessions and
// orders live in the play-area API.
type Store interface {
	Close() error
	ScanStates() ScanStateStore
	ConsoleSessions() ConsoleSessionStore
	Snapshots() SnapshotStore
}

// ScanStateStore keeps each operator's current scan result as an opaque
// record. Put always replaces the whole record.
type ScanStateStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ConsoleSessionStore manages signed-in console sessions.
type ConsoleSessionStore interface {
	Get(ctx context.Context, id string) (*ConsoleSession, error)
	Put(ctx context.Context, session ConsoleSession) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SnapshotStore keeps the last active-session list fetched per branch.
type SnapshotStore interface {
	Get(ctx context.Context, branchID string) (*FeedSnapshot, error)
	Put(ctx context.Context, snapshot FeedSnapshot, ttl time.Duration) error
}
