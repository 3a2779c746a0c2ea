package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/checkin"
	"github.com/goodtune/playdesk/internal/metrics"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRefreshInterval is how often the active list is re-fetched.
	DefaultRefreshInterval = 30 * time.Second

	// DefaultDisplayInterval is how often rows are re-rendered against a newer now.
	DefaultDisplayInterval = 60 * time.Second

	// DefaultSnapshotTTL is how long the last fetched list is kept per branch.
	DefaultSnapshotTTL = 10 * time.Minute

	// DefaultNearLimitMinutes marks rows whose remaining allowance is at or below it.
	DefaultNearLimitMinutes = 15
)

// Refresh triggers, used as metric labels.
const (
	TriggerExplicit = "explicit"
	TriggerBranch   = "branch"
	TriggerInterval = "interval"
)

// Source lists the active sessions of a branch.
type Source interface {
	ActiveSessions(ctx context.Context, branchID string) ([]apiclient.Session, error)
}

// Config holds feed timing.
type Config struct {
	RefreshInterval  time.Duration
	DisplayInterval  time.Duration
	SnapshotTTL      time.Duration
	NearLimitMinutes int
}

// RenderFunc receives a board every time the feed has something new to show.
// Returning an error stops Run.
type RenderFunc func(Board) error

// Feed fetches the active session list per branch, keeps the last fetched
// list in the snapshot store and renders it into boards.
type Feed struct {
	source    Source
	snapshots storage.SnapshotStore
	clock     checkin.Clock
	config    Config
	logger    zerolog.Logger
}

// New creates a feed. Zero config values fall back to the defaults.
func New(source Source, snapshots storage.SnapshotStore, clock checkin.Clock, config Config, logger zerolog.Logger) *Feed {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultRefreshInterval
	}
	if config.DisplayInterval <= 0 {
		config.DisplayInterval = DefaultDisplayInterval
	}
	if config.SnapshotTTL <= 0 {
		config.SnapshotTTL = DefaultSnapshotTTL
	}
	if config.NearLimitMinutes <= 0 {
		config.NearLimitMinutes = DefaultNearLimitMinutes
	}
	if clock == nil {
		clock = checkin.RealClock{}
	}

	return &Feed{
		source:    source,
		snapshots: snapshots,
		clock:     clock,
		config:    config,
		logger:    logger.With().Str("component", "feed").Logger(),
	}
}

// WithSource returns a copy of the feed that fetches through source. It is
// used to bind the feed to the signed-in operator's API credentials.
func (f *Feed) WithSource(source Source) *Feed {
	clone := *f
	clone.source = source
	return &clone
}

// Refresh fetches the active list for branchID now. Errors are returned to
// the caller.
func (f *Feed) Refresh(ctx context.Context, branchID string) error {
	return f.refresh(ctx, branchID, TriggerExplicit)
}

// SelectBranch refreshes the list for a newly selected branch and returns
// the resulting board.
func (f *Feed) SelectBranch(ctx context.Context, branchID string) (*Board, error) {
	if branchID == "" {
		return nil, errors.New("no branch selected")
	}
	if err := f.refresh(ctx, branchID, TriggerBranch); err != nil {
		return nil, err
	}
	return f.Board(ctx, branchID)
}

func (f *Feed) refresh(ctx context.Context, branchID, trigger string) error {
	sessions, err := f.source.ActiveSessions(ctx, branchID)
	if err != nil {
		metrics.FeedRefreshesTotal.WithLabelValues(trigger, "error").Inc()
		return fmt.Errorf("failed to fetch active sessions: %w", err)
	}

	data, err := json.Marshal(sessions)
	if err != nil {
		metrics.FeedRefreshesTotal.WithLabelValues(trigger, "error").Inc()
		return fmt.Errorf("failed to encode active sessions: %w", err)
	}

	snapshot := storage.FeedSnapshot{
		BranchID:  branchID,
		Sessions:  data,
		FetchedAt: f.clock.Now(),
	}
	if err := f.snapshots.Put(ctx, snapshot, f.config.SnapshotTTL); err != nil {
		metrics.FeedRefreshesTotal.WithLabelValues(trigger, "error").Inc()
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	metrics.FeedRefreshesTotal.WithLabelValues(trigger, "ok").Inc()
	metrics.ActiveSessions.WithLabelValues(branchID).Set(float64(len(sessions)))

	f.logger.Debug().
		Str("branch", branchID).
		Str("trigger", trigger).
		Int("sessions", len(sessions)).
		Msg("Active sessions refreshed")

	return nil
}

// Board renders the last fetched list for branchID at the current time. When
// nothing has been fetched yet the list is fetched first.
func (f *Feed) Board(ctx context.Context, branchID string) (*Board, error) {
	snapshot, err := f.snapshots.Get(ctx, branchID)
	if errors.Is(err, storage.ErrNotFound) {
		if err := f.Refresh(ctx, branchID); err != nil {
			return nil, err
		}
		snapshot, err = f.snapshots.Get(ctx, branchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var sessions []apiclient.Session
	if err := json.Unmarshal(snapshot.Sessions, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	board := Render(branchID, sessions, snapshot.FetchedAt, f.clock.Now(), f.config.NearLimitMinutes)
	board.Stale = f.isStale(board)
	metrics.OverdueSessions.WithLabelValues(branchID).Set(float64(board.OverdueCount))

	return &board, nil
}

func (f *Feed) isStale(board Board) bool {
	return board.RenderedAt.Sub(board.FetchedAt) > 2*f.config.RefreshInterval
}

// Run drives a watched view of branchID until ctx is cancelled. It renders
// once immediately, then runs two timers as tasks of one group: the refresh
// timer re-fetches the list and the display timer re-renders what is already
// held. Interval refresh failures are logged and skipped. Both timers stop
// when ctx is done or render fails.
func (f *Feed) Run(ctx context.Context, branchID string, render RenderFunc) error {
	metrics.FeedStreams.Inc()
	defer metrics.FeedStreams.Dec()

	var mu sync.Mutex
	emit := func(ctx context.Context) error {
		board, err := f.Board(ctx, branchID)
		if err != nil {
			f.logger.Debug().Err(err).Str("branch", branchID).Msg("Failed to render board")
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		return render(*board)
	}

	if err := emit(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(f.config.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := f.refresh(gctx, branchID, TriggerInterval); err != nil {
					f.logger.Debug().Err(err).Str("branch", branchID).Msg("Interval refresh failed")
					continue
				}
				if err := emit(gctx); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(f.config.DisplayInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := emit(gctx); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}

// DefaultBranch picks the branch a view starts on: the operator's own branch
// when it is in the list, otherwise the first listed branch.
func DefaultBranch(userBranchID string, branches []apiclient.Branch) string {
	for _, b := range branches {
		if userBranchID != "" && b.BranchID == userBranchID {
			return b.BranchID
		}
	}
	if len(branches) > 0 {
		return branches[0].BranchID
	}
	return userBranchID
}
