package model

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a civil calendar date, independent of any zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the civil date of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t, time.UTC), nil
}

// Start returns local midnight of the day in loc.
func (d Day) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Range returns [midnight, next midnight) in loc.
func (d Day) Range(loc *time.Location) TimeRange {
	return TimeRange{Start: d.Start(loc), End: d.AddDays(1).Start(loc)}
}

// AddDays returns the date n days later (earlier for negative n).
func (d Day) AddDays(n int) Day {
	return DayOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC), time.UTC)
}

// Weekday of the date.
func (d Day) Weekday() time.Weekday {
	return d.Start(time.UTC).Weekday()
}

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool {
	return d.Compare(o) < 0
}

// Compare returns -1, 0 or +1.
func (d Day) Compare(o Day) int {
	return d.Start(time.UTC).Compare(o.Start(time.UTC))
}

func (d Day) String() string {
	return d.Start(time.UTC).Format(dayLayout)
}

// MarshalText renders the date as YYYY-MM-DD.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses YYYY-MM-DD.
func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
