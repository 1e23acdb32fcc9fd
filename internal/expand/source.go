package expand

import (
	"fmt"
	"slices"
	"time"

	"statical/internal/model"
)

// SourceResult is the resolved occurrence stream of one source.
type SourceResult struct {
	SourceID    string
	Occurrences []model.Occurrence
	Warnings    []model.Warning
	// Truncated lists UIDs that hit the per-event occurrence cap.
	Truncated []string
}

// ExpandSource expands and resolves every record of a single source.
//
// Records are grouped by UID. A UID whose rule is malformed, or whose base or
// override records conflict, is excluded from the output and reported as a
// warning; all other UIDs are unaffected. The only error is an invalid
// window, reported before any work is done.
func (x *Expander) ExpandSource(sourceID string, records []model.EventRecord, window model.TimeRange) (SourceResult, error) {
	res := SourceResult{SourceID: sourceID}
	if err := window.Validate(); err != nil {
		return res, err
	}

	bases := make(map[string][]model.EventRecord)
	overrides := make(map[string][]model.EventRecord)
	uids := make([]string, 0)

	for _, rec := range records {
		if _, seen := bases[rec.UID]; !seen {
			if _, seen := overrides[rec.UID]; !seen {
				uids = append(uids, rec.UID)
			}
		}
		if rec.IsOverride() {
			overrides[rec.UID] = append(overrides[rec.UID], rec)
			continue
		}
		bases[rec.UID] = append(bases[rec.UID], rec)
	}
	slices.Sort(uids)

	for _, uid := range uids {
		occs, warns, truncated := x.expandUID(sourceID, uid, bases[uid], overrides[uid], window)
		res.Occurrences = append(res.Occurrences, occs...)
		res.Warnings = append(res.Warnings, warns...)
		if truncated {
			res.Truncated = append(res.Truncated, uid)
		}
	}

	slices.SortFunc(res.Occurrences, model.Compare)
	return res, nil
}

func (x *Expander) expandUID(sourceID, uid string, bases, overrides []model.EventRecord, window model.TimeRange) ([]model.Occurrence, []model.Warning, bool) {
	warn := func(kind model.WarningKind, err error) model.Warning {
		return model.Warning{Kind: kind, SourceID: sourceID, UID: uid, Err: err}
	}

	base, hasBase, err := pickBase(bases)
	if err != nil {
		return nil, []model.Warning{warn(model.WarningOverrideConflict, err)}, false
	}

	set, err := IndexOverrides(overrides)
	if err != nil {
		return nil, []model.Warning{warn(model.WarningOverrideConflict, err)}, false
	}

	var (
		baseOccs  []model.Occurrence
		truncated bool
		warnings  []model.Warning
		opts      = ResolveOptions{Window: window}
	)

	if hasBase {
		if base.Cancelled() {
			return nil, nil, false
		}
		c, err := compile(base)
		if err != nil {
			return nil, []model.Warning{warn(model.KindOf(err), err)}, false
		}
		baseOccs, truncated = x.Collect(c.occurrences(window))
		if truncated {
			warnings = append(warnings, warn(model.WarningWindowExhaustion,
				fmt.Errorf("expansion stopped after %d occurrences", x.opts.MaxOccurrencesPerEvent)))
		}
		opts.Produces = c.produces
	}

	res := Resolve(baseOccs, set, opts)
	for _, orphan := range res.Orphans {
		rid := *orphan.RecurrenceID
		warnings = append(warnings, model.Warning{
			Kind:         model.WarningOrphanOverride,
			SourceID:     sourceID,
			UID:          uid,
			RecurrenceID: &rid,
			Err:          fmt.Errorf("no base instance at %s", rid.Format(time.RFC3339)),
		})
	}
	return res.Occurrences, warnings, truncated
}

// pickBase applies the override precedence rule to duplicated base records.
func pickBase(bases []model.EventRecord) (model.EventRecord, bool, error) {
	if len(bases) == 0 {
		return model.EventRecord{}, false, nil
	}
	best := bases[0]
	tie := false
	for _, rec := range bases[1:] {
		switch {
		case rec.Sequence > best.Sequence:
			best, tie = rec, false
		case rec.Sequence == best.Sequence:
			tie = true
		}
	}
	if tie {
		return model.EventRecord{}, false, fmt.Errorf("%w: uid %s has several base records with sequence %d",
			model.ErrOverrideConflict, best.UID, best.Sequence)
	}
	return best, true, nil
}
