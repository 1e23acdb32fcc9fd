package expand

import (
	"fmt"
	"slices"
	"time"

	"statical/internal/model"
)

// OverrideSet maps the RECURRENCE-ID instants of one UID to the override
// record that wins for that instance.
type OverrideSet struct {
	byInstant map[int64]model.EventRecord
}

// Len returns the number of overridden instances.
func (s OverrideSet) Len() int {
	return len(s.byInstant)
}

// Lookup returns the override for the instance originally at t.
func (s OverrideSet) Lookup(t time.Time) (model.EventRecord, bool) {
	ov, ok := s.byInstant[t.UnixNano()]
	return ov, ok
}

// IndexOverrides builds an OverrideSet. Several records for the same
// instance are resolved by highest SEQUENCE; when the highest SEQUENCE is
// shared the result is ErrOverrideConflict since neither record can be
// preferred. The outcome does not depend on record order.
func IndexOverrides(records []model.EventRecord) (OverrideSet, error) {
	set := OverrideSet{byInstant: make(map[int64]model.EventRecord, len(records))}
	tied := make(map[int64]bool)
	for _, rec := range records {
		if rec.RecurrenceID == nil {
			continue
		}
		key := rec.RecurrenceID.UnixNano()
		cur, ok := set.byInstant[key]
		switch {
		case !ok || rec.Sequence > cur.Sequence:
			set.byInstant[key] = rec
			tied[key] = false
		case rec.Sequence == cur.Sequence:
			tied[key] = true
		}
	}

	var conflicts []int64
	for key, tie := range tied {
		if tie {
			conflicts = append(conflicts, key)
		}
	}
	if len(conflicts) > 0 {
		rec := set.byInstant[slices.Min(conflicts)]
		return OverrideSet{}, fmt.Errorf("%w: uid %s recurrence-id %s sequence %d",
			model.ErrOverrideConflict, rec.UID, rec.RecurrenceID.Format(time.RFC3339), rec.Sequence)
	}
	return set, nil
}

// ResolveOptions carries the context needed to judge overrides that did not
// match any base occurrence in the window.
type ResolveOptions struct {
	Window model.TimeRange
	// Produces reports whether the base event generates the instant at all.
	// Nil means there is no base event.
	Produces func(time.Time) bool
}

// Resolution is the result of applying overrides to a base expansion.
type Resolution struct {
	Occurrences []model.Occurrence
	// Orphans are overrides emitted as standalone occurrences because their
	// RECURRENCE-ID matched nothing the base event generates.
	Orphans []model.EventRecord
}

// Resolve applies overrides onto base occurrences:
//
//   - a matching override replaces the instance (moved / modified)
//   - a matching CANCELLED override drops the instance
//   - overrides for instances outside the base expansion (out of window or
//     EXDATE'd) are emitted when their new time overlaps the window
//   - overrides for instances the base never generates are orphans, kept
//     and flagged
func Resolve(base []model.Occurrence, overrides OverrideSet, opts ResolveOptions) Resolution {
	var res Resolution
	res.Occurrences = make([]model.Occurrence, 0, len(base))
	used := make(map[int64]struct{}, overrides.Len())

	for _, occ := range base {
		key := occ.RecurrenceID.UnixNano()
		ov, ok := overrides.byInstant[key]
		if !ok {
			res.Occurrences = append(res.Occurrences, occ)
			continue
		}
		used[key] = struct{}{}
		if ov.Cancelled() {
			continue
		}
		moved := applyOverride(ov, occ.RecurrenceID)
		if opts.Window.Overlaps(moved.Start, moved.End) {
			res.Occurrences = append(res.Occurrences, moved)
		}
	}

	keys := make([]int64, 0, overrides.Len())
	for key := range overrides.byInstant {
		if _, ok := used[key]; !ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	for _, key := range keys {
		ov := overrides.byInstant[key]
		if ov.Cancelled() || !opts.Window.Overlaps(ov.Start, ov.End) {
			continue
		}
		occ := applyOverride(ov, *ov.RecurrenceID)
		if opts.Produces == nil || !opts.Produces(*ov.RecurrenceID) {
			occ.Orphan = true
			res.Orphans = append(res.Orphans, ov)
		}
		res.Occurrences = append(res.Occurrences, occ)
	}

	slices.SortFunc(res.Occurrences, model.Compare)
	return res
}

func applyOverride(ov model.EventRecord, recurrenceID time.Time) model.Occurrence {
	occ := model.NewOccurrence(ov, recurrenceID, ov.Start, ov.End)
	occ.Overridden = true
	return occ
}
