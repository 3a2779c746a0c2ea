package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/checkin"
	"github.com/goodtune/playdesk/internal/storage/memory"
	"github.com/rs/zerolog"
)

type fakeSource struct {
	mu       sync.Mutex
	sessions map[string][]apiclient.Session
	err      error
	calls    []string
}

func (s *fakeSource) ActiveSessions(ctx context.Context, branchID string) ([]apiclient.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, branchID)
	if s.err != nil {
		return nil, s.err
	}
	return s.sessions[branchID], nil
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var baseTime = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

func setupFeed(t *testing.T, source *fakeSource, config Config) (*Feed, *checkin.FixedClock) {
	t.Helper()
	clock := checkin.NewFixedClock(baseTime)
	store := memory.New(memory.Options{})
	return New(source, store.Snapshots(), clock, config, zerolog.Nop()), clock
}

func testSessions() []apiclient.Session {
	return []apiclient.Session{
		{SessionID: "S1", ChildName: "Lina", CheckInTime: baseTime.Add(-150 * time.Minute)},
		{SessionID: "S2", ChildName: "Omar", CheckInTime: baseTime.Add(-110 * time.Minute), IncludedMinutes: 120},
		{SessionID: "S3", ChildName: "Maya", CheckInTime: baseTime.Add(-30 * time.Minute), IncludedMinutes: 600, PaymentType: apiclient.PaymentSubscription},
	}
}

func TestRender(t *testing.T) {
	board := Render("B1", testSessions(), baseTime, baseTime, 15)

	if len(board.Rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(board.Rows))
	}
	for i, want := range []string{"S1", "S2", "S3"} {
		if board.Rows[i].Session.SessionID != want {
			t.Errorf("Row %d = %s, want %s", i, board.Rows[i].Session.SessionID, want)
		}
	}

	if board.OverdueCount != 1 {
		t.Errorf("Expected 1 overdue, got %d", board.OverdueCount)
	}

	first := board.Rows[0]
	if !first.Meta.IsOverdue || first.Meta.Overdue != 30 || first.NearLimit {
		t.Errorf("Unexpected first row %+v", first)
	}

	second := board.Rows[1]
	if second.Meta.IsOverdue || !second.NearLimit || second.Remaining != 10 {
		t.Errorf("Unexpected second row %+v", second)
	}

	third := board.Rows[2]
	if third.NearLimit || third.Remaining != 570 {
		t.Errorf("Unexpected third row %+v", third)
	}
}

func TestRender_Empty(t *testing.T) {
	board := Render("B1", nil, baseTime, baseTime, 15)
	if board.Rows == nil || len(board.Rows) != 0 {
		t.Errorf("Expected empty non-nil rows, got %#v", board.Rows)
	}
}

func TestFeed_RefreshAndBoard(t *testing.T) {
	source := &fakeSource{sessions: map[string][]apiclient.Session{"B1": testSessions()}}
	f, clock := setupFeed(t, source, Config{})
	ctx := context.Background()

	if err := f.Refresh(ctx, "B1"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	board, err := f.Board(ctx, "B1")
	if err != nil {
		t.Fatalf("Board failed: %v", err)
	}
	if len(board.Rows) != 3 || board.Stale {
		t.Fatalf("Unexpected board %+v", board)
	}

	// Display only: a later render moves elapsed without a new fetch.
	clock.Advance(20 * time.Second)
	board, err = f.Board(ctx, "B1")
	if err != nil {
		t.Fatalf("Board failed: %v", err)
	}
	if source.callCount() != 1 {
		t.Errorf("Expected 1 fetch, got %d", source.callCount())
	}
	if !board.RenderedAt.Equal(baseTime.Add(20 * time.Second)) {
		t.Errorf("Unexpected render time %v", board.RenderedAt)
	}

	clock.Advance(2 * time.Minute)
	board, err = f.Board(ctx, "B1")
	if err != nil {
		t.Fatalf("Board failed: %v", err)
	}
	if !board.Stale {
		t.Error("Expected board to be stale after two missed refreshes")
	}
	if board.Rows[1].Meta.Elapsed != 112 {
		t.Errorf("Expected elapsed 112, got %d", board.Rows[1].Meta.Elapsed)
	}
}

func TestFeed_BoardFetchesWhenEmpty(t *testing.T) {
	source := &fakeSource{sessions: map[string][]apiclient.Session{"B1": testSessions()}}
	f, _ := setupFeed(t, source, Config{})

	board, err := f.Board(context.Background(), "B1")
	if err != nil {
		t.Fatalf("Board failed: %v", err)
	}
	if len(board.Rows) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(board.Rows))
	}
	if source.callCount() != 1 {
		t.Errorf("Expected 1 fetch, got %d", source.callCount())
	}
}

func TestFeed_ExplicitRefreshReturnsError(t *testing.T) {
	source := &fakeSource{err: errors.New("api down")}
	f, _ := setupFeed(t, source, Config{})

	if err := f.Refresh(context.Background(), "B1"); err == nil {
		t.Error("Expected explicit refresh error")
	}
	if _, err := f.SelectBranch(context.Background(), "B1"); err == nil {
		t.Error("Expected branch selection error")
	}
	if _, err := f.SelectBranch(context.Background(), ""); err == nil {
		t.Error("Expected error for empty branch")
	}
}

func TestFeed_SelectBranch(t *testing.T) {
	source := &fakeSource{sessions: map[string][]apiclient.Session{
		"B1": testSessions(),
		"B2": testSessions()[:1],
	}}
	f, _ := setupFeed(t, source, Config{})
	ctx := context.Background()

	if _, err := f.SelectBranch(ctx, "B1"); err != nil {
		t.Fatalf("SelectBranch failed: %v", err)
	}
	board, err := f.SelectBranch(ctx, "B2")
	if err != nil {
		t.Fatalf("SelectBranch failed: %v", err)
	}
	if board.BranchID != "B2" || len(board.Rows) != 1 {
		t.Errorf("Unexpected board %+v", board)
	}
	if source.callCount() != 2 {
		t.Errorf("Expected a fetch per branch change, got %d", source.callCount())
	}
}

func TestFeed_StaleSnapshotSurvivesFailure(t *testing.T) {
	source := &fakeSource{sessions: map[string][]apiclient.Session{"B1": testSessions()}}
	f, clock := setupFeed(t, source, Config{})
	ctx := context.Background()

	if err := f.Refresh(ctx, "B1"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	source.setErr(errors.New("api down"))
	clock.Advance(5 * time.Minute)
	if err := f.Refresh(ctx, "B1"); err == nil {
		t.Fatal("Expected refresh error")
	}

	board, err := f.Board(ctx, "B1")
	if err != nil {
		t.Fatalf("Board failed: %v", err)
	}
	if !board.Stale || len(board.Rows) != 3 {
		t.Errorf("Expected stale board with last rows, got %+v", board)
	}
}

type renderLog struct {
	mu     sync.Mutex
	boards []Board
}

func (r *renderLog) render(b Board) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boards = append(r.boards, b)
	return nil
}

func (r *renderLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boards)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestFeed_RunStopsOnCancel(t *testing.T) {
	source := &fakeSource{sessions: map[string][]apiclient.Session{"B1": testSessions()}}
	f, _ := setupFeed(t, source, Config{
		RefreshInterval: 10 * time.Millisecond,
		DisplayInterval: 15 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	log := &renderLog{}
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, "B1", log.render)
	}()

	waitFor(t, func() bool { return source.callCount() >= 3 && log.count() >= 4 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	calls := source.callCount()
	time.Sleep(50 * time.Millisecond)
	if source.callCount() != calls {
		t.Error("Refresh timer kept running after cancel")
	}
}

func TestFeed_RunSwallowsIntervalErrors(t *testing.T) {
	source := &fakeSource{sessions: map[string][]apiclient.Session{"B1": testSessions()}}
	f, _ := setupFeed(t, source, Config{
		RefreshInterval: 10 * time.Millisecond,
		DisplayInterval: 10 * time.Millisecond,
	})

	if err := f.Refresh(context.Background(), "B1"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	source.setErr(errors.New("api down"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := &renderLog{}
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, "B1", log.render)
	}()

	waitFor(t, func() bool { return source.callCount() >= 4 && log.count() >= 3 })
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Interval errors must not stop Run, got %v", err)
	}
}

func TestFeed_RunStopsOnRenderError(t *testing.T) {
	source := &fakeSource{sessions: map[string][]apiclient.Session{"B1": testSessions()}}
	f, _ := setupFeed(t, source, Config{
		RefreshInterval: 10 * time.Millisecond,
		DisplayInterval: 10 * time.Millisecond,
	})

	gone := errors.New("client gone")
	var mu sync.Mutex
	renders := 0
	err := f.Run(context.Background(), "B1", func(Board) error {
		mu.Lock()
		defer mu.Unlock()
		renders++
		if renders == 3 {
			return gone
		}
		return nil
	})
	if !errors.Is(err, gone) {
		t.Errorf("Expected render error, got %v", err)
	}
}

func TestDefaultBranch(t *testing.T) {
	branches := []apiclient.Branch{{BranchID: "B1"}, {BranchID: "B2"}}

	tests := []struct {
		name     string
		user     string
		branches []apiclient.Branch
		want     string
	}{
		{"user branch listed", "B2", branches, "B2"},
		{"no user branch", "", branches, "B1"},
		{"user branch not listed", "B9", branches, "B1"},
		{"no branches", "B9", nil, "B9"},
		{"nothing", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultBranch(tt.user, tt.branches); got != tt.want {
				t.Errorf("DefaultBranch() = %q, want %q", got, tt.want)
			}
		})
	}
}
