package model

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Status mirrors the iCalendar STATUS property of a VEVENT.
type Status string

const (
	StatusNone      Status = ""
	StatusConfirmed Status = "CONFIRMED"
	StatusTentative Status = "TENTATIVE"
	StatusCancelled Status = "CANCELLED"
)

// Rule is a recurrence rule as handed over by the parser.
//
// Options is nil when the parser could not make sense of Raw; the expander
// reports such events as malformed instead of guessing.
type Rule struct {
	Raw     string
	Options *rrule.ROption
}

// EventRecord is the normalized representation of one VEVENT, either a base
// event or an override of a single recurrence instance.
//
// Records are produced per source load, read-only during expansion and
// discarded once the occurrence index for a window has been built.
type EventRecord struct {
	SourceID string
	UID      string

	Summary     string
	Description string
	Location    string

	// Start / End carry their governing zone (TZID, UTC or the source's
	// default zone for floating values).
	Start  time.Time
	End    time.Time
	AllDay bool

	Rule            *Rule
	RecurrenceDates []time.Time
	ExceptionDates  []time.Time

	// RecurrenceID is set only on override records and names the original
	// instant of the instance being replaced.
	RecurrenceID *time.Time

	Sequence int
	Status   Status
}

// IsOverride reports whether the record replaces a single instance.
func (e EventRecord) IsOverride() bool {
	return e.RecurrenceID != nil
}

// IsRecurring reports whether the record generates more than its own start.
func (e EventRecord) IsRecurring() bool {
	return e.Rule != nil || len(e.RecurrenceDates) > 0
}

// Cancelled reports STATUS:CANCELLED.
func (e EventRecord) Cancelled() bool {
	return e.Status == StatusCancelled
}

// Duration is End - Start; zero for point-in-time events.
func (e EventRecord) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Validate checks the record-level invariants.
func (e EventRecord) Validate() error {
	if e.UID == "" {
		return fmt.Errorf("%w: missing UID", ErrInvalidRecord)
	}
	if e.Start.IsZero() {
		return fmt.Errorf("%w: uid %s has no start", ErrInvalidRecord, e.UID)
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("%w: uid %s ends before it starts", ErrInvalidRecord, e.UID)
	}
	return nil
}

// Zone returns the governing zone of the record.
func (e EventRecord) Zone() *time.Location {
	if e.Start.IsZero() {
		return time.UTC
	}
	return e.Start.Location()
}
