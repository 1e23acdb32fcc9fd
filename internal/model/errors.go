package model

import "errors"

var (
	// ErrSourceUnavailable marks a source whose load or parse step failed.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedRecurrence marks a recurrence rule that cannot be evaluated.
	ErrMalformedRecurrence = errors.New("malformed recurrence")
	// ErrOverrideConflict marks two records for the same instance with equal sequence.
	ErrOverrideConflict = errors.New("override conflict")
	// ErrUnboundedWindow is returned when an expansion window lacks a bound.
	ErrUnboundedWindow = errors.New("expansion window must be bounded")
	// ErrInvalidRecord marks a record that violates the data model invariants.
	ErrInvalidRecord = errors.New("invalid event record")
	// ErrNoSources is returned when not a single source could be loaded.
	ErrNoSources = errors.New("no calendar source could be loaded")
)
