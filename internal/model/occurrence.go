package model

import (
	"cmp"
	"time"
)

// Occurrence represents a single concrete instance of an event after
// recurrence expansion, exception resolution and (optionally) merging.
//
// Start / End stay in the event's governing zone. Display code converts them
// with In; the stored instants are never rewritten for presentation.
type Occurrence struct {
	SourceID string
	UID      string

	// InstanceKey identifies the instance within its UID, derived from the
	// original (pre-override) start instant in UTC.
	InstanceKey string

	// RecurrenceID is the original instant this occurrence was generated
	// for. Equal to Start unless the instance was moved by an override.
	RecurrenceID time.Time

	Summary     string
	Description string
	Location    string

	AllDay bool
	Start  time.Time
	End    time.Time

	Sequence int
	Status   Status

	// Overridden is set when an override record supplied the fields.
	Overridden bool
	// Orphan is set for overrides whose RECURRENCE-ID matched nothing the
	// base event generates.
	Orphan bool
}

// NewOccurrence builds the occurrence of rec starting at start.
func NewOccurrence(rec EventRecord, recurrenceID, start, end time.Time) Occurrence {
	return Occurrence{
		SourceID:     rec.SourceID,
		UID:          rec.UID,
		InstanceKey:  InstanceKey(recurrenceID),
		RecurrenceID: recurrenceID,
		Summary:      rec.Summary,
		Description:  rec.Description,
		Location:     rec.Location,
		AllDay:       rec.AllDay,
		Start:        start,
		End:          end,
		Sequence:     rec.Sequence,
		Status:       rec.Status,
	}
}

// InstanceKey formats an instant as a stable per-instance key.
func InstanceKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Duration is End - Start.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// In returns a copy with Start / End converted to loc, for display only.
func (o Occurrence) In(loc *time.Location) Occurrence {
	if loc == nil || o.AllDay {
		return o
	}
	o.Start = o.Start.In(loc)
	o.End = o.End.In(loc)
	return o
}

// Compare orders occurrences by start instant, then UID, then source and end
// so that sorting is fully deterministic.
func Compare(a, b Occurrence) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := cmp.Compare(a.UID, b.UID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SourceID, b.SourceID); c != 0 {
		return c
	}
	return a.End.Compare(b.End)
}
