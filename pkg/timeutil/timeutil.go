// Package timeutil provides calendar-date helpers for activity streaks.
// Streaks count school days, not elapsed hours, so all comparisons happen on
// plain dates resolved in the school's local timezone.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of a Date (ISO 8601 calendar date).
const DateLayout = "2006-01-02"

// Date is a calendar date with no time-of-day and no zone.
// The zero value means "no date".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a normalized Date (2025-01-32 becomes 2025-02-01).
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the local calendar date of now in loc.
// A nil loc means UTC.
func Today(loc *time.Location, now time.Time) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("timeutil: parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate that panics on error. Intended for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time returns midnight of d in loc (UTC when loc is nil).
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

// DaysSince returns the number of calendar days from other to d.
// Positive when d is after other.
func (d Date) DaysSince(other Date) int {
	// UTC midnights are exactly 24h apart, DST never interferes.
	return int(d.Time(time.UTC).Sub(other.Time(time.UTC)).Hours() / 24)
}

// Equal reports whether both dates name the same day.
func (d Date) Equal(other Date) bool {
	return d == other
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.DaysSince(other) < 0
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return d.DaysSince(other) > 0
}

// String formats d as YYYY-MM-DD, or "" for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the zero Date.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LoadLocation resolves an IANA zone name, falling back to UTC for "".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return loc, nil
}
