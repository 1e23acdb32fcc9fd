package model

import (
	"errors"
	"strings"
	"time"
)

// WarningKind classifies a non-fatal problem found during a run.
type WarningKind string

const (
	WarningSourceUnavailable   WarningKind = "source_unavailable"
	WarningMalformedRecurrence WarningKind = "malformed_recurrence"
	WarningOverrideConflict    WarningKind = "override_conflict"
	WarningWindowExhaustion    WarningKind = "window_exhaustion"
	WarningOrphanOverride      WarningKind = "orphan_override"
	WarningInvalidRecord       WarningKind = "invalid_record"
)

// Warning is a per-item problem reported alongside a best-effort result.
type Warning struct {
	Kind         WarningKind
	SourceID     string
	UID          string
	RecurrenceID *time.Time
	Err          error
}

// KindOf maps a sentinel error to its warning kind.
func KindOf(err error) WarningKind {
	switch {
	case errors.Is(err, ErrSourceUnavailable):
		return WarningSourceUnavailable
	case errors.Is(err, ErrMalformedRecurrence):
		return WarningMalformedRecurrence
	case errors.Is(err, ErrOverrideConflict):
		return WarningOverrideConflict
	default:
		return WarningInvalidRecord
	}
}

// Message returns the error text, or an empty string.
func (w Warning) Message() string {
	if w.Err == nil {
		return ""
	}
	return w.Err.Error()
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(string(w.Kind))
	if w.SourceID != "" {
		b.WriteString(" source=" + w.SourceID)
	}
	if w.UID != "" {
		b.WriteString(" uid=" + w.UID)
	}
	if w.RecurrenceID != nil {
		b.WriteString(" recurrence_id=" + w.RecurrenceID.Format(time.RFC3339))
	}
	if w.Err != nil {
		b.WriteString(": " + w.Err.Error())
	}
	return b.String()
}
