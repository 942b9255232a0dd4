package util

import "time"

// Location resolves tz, falling back to the process-local zone when tz is
// empty or unknown.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// DateKey returns the ISO calendar date (YYYY-MM-DD) of `now` in tz. It is
// the unique key for daily state rows.
func DateKey(tz string, now time.Time) string {
	return now.In(Location(tz)).Format("2006-01-02")
}

// TodayOpen returns the local midnight (00:00) for `now` in tz.
func TodayOpen(tz string, now time.Time) time.Time {
	loc := Location(tz)
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// NextOpen returns the next local midnight after `now` in tz.
func NextOpen(tz string, now time.Time) time.Time {
	return TodayOpen(tz, now).Add(24 * time.Hour)
}

// SameTradingDay checks if a and b are on the same local day in tz.
func SameTradingDay(tz string, a, b time.Time) bool {
	return TodayOpen(tz, a).Equal(TodayOpen(tz, b))
}

// AtClock anchors a wall-clock time hh:mm onto the calendar day of `now` in tz.
func AtClock(tz string, now time.Time, hh, mm int) time.Time {
	loc := Location(tz)
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}
