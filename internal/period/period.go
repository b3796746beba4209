// Package period computes reset boundaries from wall-clock time.
//
// Every function takes "now" as a parameter so callers decide where time comes
// from; the Clock interface is the injection point for long-lived components.
package period

import (
	"fmt"
	"time"
)

// Key identifies a reset boundary. Two reads of "now" inside the same boundary
// map to the same Key.
type Key string

// DailyKey maps a timestamp to its calendar day in now's location.
//
// The month is zero-based ("2024-4-1" is 1 May 2024) so keys match the ones
// already written by the browser client.
func DailyKey(now time.Time) Key {
	return Key(fmt.Sprintf("%d-%d-%d", now.Year(), int(now.Month())-1, now.Day()))
}

// StartOfDay returns local midnight of now's calendar day.
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// NextDay returns the next local midnight after now.
func NextDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// UntilNextDay returns the time left before the daily key changes. Never negative.
func UntilNextDay(now time.Time) time.Duration {
	d := NextDay(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Countdown formats the time left until 23:59:59.999 as HH:MM:SS.
func Countdown(now time.Time) string {
	end := NextDay(now).Add(-time.Millisecond)
	diff := end.Sub(now)
	if diff < 0 {
		return "00:00:00"
	}
	h := int(diff / time.Hour)
	m := int(diff%time.Hour) / int(time.Minute)
	s := int(diff%time.Minute) / int(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// WindowExpired reports whether a rolling window that last reset at last has
// run its full length by now. A zero last is always expired.
func WindowExpired(last time.Time, window time.Duration, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= window
}

// DayExpired reports whether now has reached the local midnight that ends
// start's calendar day. Both are read in now's location, so a 23 or 25 hour
// day still ends at midnight. A zero start is always expired.
func DayExpired(start, now time.Time) bool {
	if start.IsZero() {
		return true
	}
	return !now.Before(NextDay(start.In(now.Location())))
}

// RollingKey is the Key of a rolling window: the RFC 3339 time of its last reset.
func RollingKey(last time.Time) Key {
	return Key(last.UTC().Format(time.RFC3339))
}

// ParseTime parses a timestamp written by FormatTime. Empty input yields the
// zero time and no error.
func ParseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

// FormatTime renders t the way timestamps are persisted.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
