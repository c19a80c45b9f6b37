// Package time contains time related helpers
package time

import "time"

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// DayMillis is the number of milliseconds in one UTC day
const DayMillis = int64(24 * time.Hour / time.Millisecond)

// UTCDay truncates t to UTC midnight, dropping any time-of-day component
func UTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current instant floored to UTC midnight
// this is the sole clock read for the history pipeline; the fetcher and
// the upstream client never call time.Now themselves
func Today() time.Time { return UTCDay(time.Now()) }

// Millis returns t's UTC-midnight-truncated value in epoch milliseconds
func Millis(t time.Time) int64 { return UTCDay(t).UnixMilli() }

// FromMillis converts epoch milliseconds back to a UTC-day time, flooring
// to the day boundary
func FromMillis(ms int64) time.Time { return UTCDay(time.UnixMilli(ms)) }

// MidpointDay computes the UTC-day midpoint between a and b using integer
// floor division in milliseconds, per the fetcher's numeric semantics
func MidpointDay(a, b time.Time) time.Time {
	am, bm := Millis(a), Millis(b)
	mid := am + (bm-am)/2
	return FromMillis(mid)
}

// DaysBetween returns the whole number of UTC days between a and b (b - a)
func DaysBetween(a, b time.Time) int64 {
	return (Millis(b) - Millis(a)) / DayMillis
}
