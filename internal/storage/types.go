package storage

import (
	"encoding/json"
	"time"
)

// ConsoleSession is a signed-in staff member's console session. The API
// token is held server-side and never sent to the browser.
type ConsoleSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at now.
func (s ConsoleSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// FeedSnapshot is the raw active-session list last fetched for a branch.
type FeedSnapshot struct {
	BranchID  string          `json:"branch_id"`
	Sessions  json.RawMessage `json:"sessions"`
	FetchedAt time.Time       `json:"fetched_at"`
}
