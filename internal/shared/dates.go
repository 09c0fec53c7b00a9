package shared

import "time"

// DateLayout is the wire format for business dates.
const DateLayout = "2006-01-02"

// BusinessDay truncates t to midnight of its calendar day in loc and returns it in UTC-normalised
// date form (year, month, day at 00:00 UTC) so it compares cleanly with DATE columns.
func BusinessDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DayStart returns the instant the business day named by day (a date, any zone) begins in loc.
func DayStart(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
}

// DayEnd returns the instant the business day named by day ends in loc (exclusive).
func DayEnd(day time.Time, loc *time.Location) time.Time {
	return DayStart(day, loc).AddDate(0, 0, 1)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

// DaysBetween counts calendar days from a to b (both business days).
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
