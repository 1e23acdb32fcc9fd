package model

import (
	"fmt"
	"time"
)

// TimeRange is a half-open window [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange is a small convenience constructor.
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start, End: end}
}

// Validate rejects unbounded and inverted windows. An unbounded window is a
// caller contract violation: nothing is expanded for it.
func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return ErrUnboundedWindow
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("time range: end %s is before start %s",
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Contains reports Start <= t < End.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Overlaps reports whether [start, end) intersects the range. Zero-length
// spans are treated as the single instant start.
func (r TimeRange) Overlaps(start, end time.Time) bool {
	if !end.After(start) {
		return r.Contains(start)
	}
	return start.Before(r.End) && end.After(r.Start)
}

func (r TimeRange) String() string {
	return "[" + r.Start.Format(time.RFC3339) + ", " + r.End.Format(time.RFC3339) + ")"
}
