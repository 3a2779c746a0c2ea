package checkin

import (
	"fmt"
	"time"

	"github.com/goodtune/playdesk/internal/apiclient"
)

// DefaultIncludedMinutes is the allowance assumed when a session carries none.
const DefaultIncludedMinutes = 120

// OverdueMeta is the elapsed/overdue breakdown of a session at a point in time.
// It is derived on every render and never stored.
type OverdueMeta struct {
	Elapsed   int  `json:"elapsed"`
	Included  int  `json:"included"`
	Overdue   int  `json:"overdue"`
	IsOverdue bool `json:"is_overdue"`
}

// ComputeOverdueMeta derives elapsed and overdue minutes for a session.
//
// A server-supplied elapsed_minutes is used as is. Otherwise elapsed is the
// number of whole minutes between check-in and now, floored at zero so a
// clock running behind the server never yields a negative figure.
func ComputeOverdueMeta(session apiclient.Session, now time.Time) OverdueMeta {
	var elapsed int
	if session.ElapsedMinutes != nil {
		elapsed = *session.ElapsedMinutes
	} else {
		elapsed = ElapsedMinutes(session.CheckInTime, now)
	}

	included := session.IncludedMinutes
	if included == 0 {
		included = DefaultIncludedMinutes
	}

	overdue := elapsed - included
	if overdue < 0 {
		overdue = 0
	}

	return OverdueMeta{
		Elapsed:   elapsed,
		Included:  included,
		Overdue:   overdue,
		IsOverdue: overdue > 0,
	}
}

// ElapsedMinutes returns floor((now - checkIn) / 1m), never negative.
func ElapsedMinutes(checkIn, now time.Time) int {
	d := now.Sub(checkIn)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Remaining returns the minutes left before the session becomes overdue.
func (m OverdueMeta) Remaining() int {
	if r := m.Included - m.Elapsed; r > 0 {
		return r
	}
	return 0
}

// HoursCharged returns the number of started overtime hours. It mirrors the
// checkout summary's overdue_hours_charged for display only; the API owns
// the actual charge.
func (m OverdueMeta) HoursCharged() int {
	if m.Overdue <= 0 {
		return 0
	}
	return (m.Overdue + 59) / 60
}

// NearLimit reports whether a session that is not yet overdue has at most
// threshold minutes left.
func (m OverdueMeta) NearLimit(threshold int) bool {
	return !m.IsOverdue && threshold > 0 && m.Remaining() <= threshold
}

// AgeDisplay formats a child's age given in months.
func AgeDisplay(months int) string {
	if months <= 0 {
		return ""
	}
	years, rest := months/12, months%12
	switch {
	case years == 0:
		return fmt.Sprintf("%d mo", months)
	case rest == 0:
		return fmt.Sprintf("%d yr", years)
	default:
		return fmt.Sprintf("%d yr %d mo", years, rest)
	}
}
