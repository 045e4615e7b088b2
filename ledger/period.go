package ledger

import "time"

// =============================================================================
// PERIOD - Spending window boundaries
// =============================================================================

// Period is the half-open window [Start, End) a spending limit applies to.
//
// Examples (location = America/New_York, now = Wed 2025-03-12 15:00):
//   - Weekly:  Sun 2025-03-09 00:00 - Sun 2025-03-16 00:00
//   - Monthly: Sat 2025-03-01 00:00 - Tue 2025-04-01 00:00
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// PeriodFor returns the window containing now, computed in loc.
// Weeks start on Sunday at midnight; months on the 1st at midnight.
func PeriodFor(f Frequency, now time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch f {
	case Monthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return Period{Start: start, End: start.AddDate(0, 1, 0)}
	default:
		start := midnight.AddDate(0, 0, -int(local.Weekday()))
		return Period{Start: start, End: start.AddDate(0, 0, 7)}
	}
}
