// Package bizcal implements business-day arithmetic over calendar dates.
//
// A business day is any date whose weekday is Monday through Friday. All
// functions reduce their inputs to civil dates (year, month, day in the
// value's own location) before counting, so time-of-day components and
// DST offsets never change a result.
package bizcal

import "time"

const day = 24 * time.Hour

// Midnight returns t truncated to 00:00 in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Today returns midnight of now as observed in loc. A nil loc means UTC.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Midnight(now.In(loc))
}

// civil maps t onto a UTC midnight carrying the same calendar date, which
// makes day subtraction exact.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsBusinessDay reports whether t falls on Monday-Friday.
func IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// CountBusinessDaysBetween counts business days strictly after from up to and
// including to. It returns 0 when from is on or after to.
func CountBusinessDaysBetween(from, to time.Time) int {
	start, end := civil(from), civil(to)
	if !start.Before(end) {
		return 0
	}

	days := int(end.Sub(start) / day)
	count := (days / 7) * 5

	cursor := start.AddDate(0, 0, (days/7)*7)
	for i := 0; i < days%7; i++ {
		cursor = cursor.AddDate(0, 0, 1)
		if IsBusinessDay(cursor) {
			count++
		}
	}
	return count
}

// AddBusinessDays returns the n-th business day after from, at midnight in
// from's location. n <= 0 returns midnight of from unchanged.
func AddBusinessDays(from time.Time, n int) time.Time {
	cursor := Midnight(from)
	for n > 0 {
		cursor = cursor.AddDate(0, 0, 1)
		if IsBusinessDay(cursor) {
			n--
		}
	}
	return cursor
}
