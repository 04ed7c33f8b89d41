package common

import (
	"math"
	"time"
)

// Round1 rounds v to one decimal place with halves rounded up, so -0.25
// becomes -0.2.
func Round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}

// DateOf returns the calendar date of t as seen in loc, encoded as midnight UTC.
// A nil loc means UTC.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses the leading YYYY-MM-DD of an ISO-like timestamp
// ("2024-06-01T13:00", "2024-06-01 12:00:00", "2024-06-01").
func ParseDate(s string) (time.Time, error) {
	if len(s) < 10 {
		return time.Time{}, &time.ParseError{Layout: time.DateOnly, Value: s, Message: ": too short"}
	}
	return time.Parse(time.DateOnly, s[:10])
}
