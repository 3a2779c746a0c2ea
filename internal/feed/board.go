package feed

import (
	"time"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/checkin"
)

// Row is one active session with its overdue figures at render time.
type Row struct {
	Session   apiclient.Session   `json:"session"`
	Meta      checkin.OverdueMeta `json:"meta"`
	Remaining int                 `json:"remaining_minutes"`
	NearLimit bool                `json:"near_limit"`
}

// Board is the active list of one branch rendered at a point in time.
type Board struct {
	BranchID     string    `json:"branch_id"`
	Rows         []Row     `json:"rows"`
	OverdueCount int       `json:"overdue_count"`
	FetchedAt    time.Time `json:"fetched_at"`
	RenderedAt   time.Time `json:"rendered_at"`
	Stale        bool      `json:"stale"`
}

// Render computes the rows of a board. Row order follows sessions.
func Render(branchID string, sessions []apiclient.Session, fetchedAt, now time.Time, nearLimitMinutes int) Board {
	board := Board{
		BranchID:   branchID,
		Rows:       make([]Row, 0, len(sessions)),
		FetchedAt:  fetchedAt,
		RenderedAt: now,
	}

	for _, s := range sessions {
		meta := checkin.ComputeOverdueMeta(s, now)
		if meta.IsOverdue {
			board.OverdueCount++
		}
		board.Rows = append(board.Rows, Row{
			Session:   s,
			Meta:      meta,
			Remaining: meta.Remaining(),
			NearLimit: !meta.IsOverdue && meta.NearLimit(nearLimitMinutes),
		})
	}

	return board
}
