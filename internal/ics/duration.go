package ics

import (
	"fmt"
	"strconv"
	"time"
)

// Duration is an RFC 5545 DURATION value. Days and weeks are nominal (they
// follow the wall clock across DST), hours and smaller are exact.
type Duration struct {
	Negative bool
	Weeks    int
	Days     int
	Clock    time.Duration
}

// AddTo returns t shifted by the duration.
func (d Duration) AddTo(t time.Time) time.Time {
	sign := 1
	if d.Negative {
		sign = -1
	}
	t = t.AddDate(0, 0, sign*(d.Weeks*7+d.Days))
	return t.Add(time.Duration(sign) * d.Clock)
}

// ParseDuration parses values such as "PT1H30M", "P1D", "-P2W".
func ParseDuration(s string) (Duration, error) {
	var d Duration
	orig := s
	if s == "" {
		return d, fmt.Errorf("empty duration")
	}
	switch s[0] {
	case '-':
		d.Negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if len(s) < 2 || s[0] != 'P' {
		return d, fmt.Errorf("duration %q: missing P designator", orig)
	}
	s = s[1:]

	inTime := false
	parts := 0
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return d, fmt.Errorf("duration %q: misplaced T", orig)
			}
			inTime = true
			continue
		}

		if num == "" {
			return d, fmt.Errorf("duration %q: missing number before %c", orig, r)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return d, fmt.Errorf("duration %q: %w", orig, err)
		}
		num = ""
		parts++

		switch {
		case r == 'W' && !inTime:
			d.Weeks = n
		case r == 'D' && !inTime:
			d.Days = n
		case r == 'H' && inTime:
			d.Clock += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			d.Clock += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			d.Clock += time.Duration(n) * time.Second
		default:
			return d, fmt.Errorf("duration %q: unexpected %c", orig, r)
		}
	}
	if num != "" {
		return d, fmt.Errorf("duration %q: trailing number", orig)
	}
	if parts == 0 {
		return d, fmt.Errorf("duration %q: no components", orig)
	}
	return d, nil
}
