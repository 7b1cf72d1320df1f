package domain

import "time"

// DateLayout is the ISO-8601 calendar date format used for due dates.
const DateLayout = "2006-01-02"

// DateOf truncates t to midnight of its calendar day in t's own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days from one date to another. Only the
// year/month/day of each value matter, so DST shifts and differing
// locations do not skew the result.
func DaysBetween(from time.Time, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// ParseDate reads a yyyy-mm-dd value as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, value, loc)
}

// LocalDate re-anchors a calendar date scanned from a database (usually
// midnight UTC) to midnight local time.
func LocalDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}
