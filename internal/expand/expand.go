package expand

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"statical/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// restartMargin is how far before the requested instant a restarted
	// sub-daily rule begins.
	restartMargin = 48 * time.Hour
)

// Options controls how recurrence expansion is performed.
type Options struct {
	// MaxOccurrencesPerEvent is a safety cap applied by Collect. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Expander turns event records into concrete occurrences. It holds no state
// besides its options and is safe for concurrent use.
type Expander struct {
	opts Options
}

// New constructs an Expander.
func New(opts Options) *Expander {
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	return &Expander{opts: opts}
}

// Expand returns the occurrences rec generates inside window, in start
// order. The sequence is computed lazily and may be ranged over any number of
// times with identical results.
//
//   - events without RRULE / RDATE yield themselves if they overlap window
//   - RRULE instants come from rrule-go anchored at the event's DTSTART, in
//     the event's own zone, so wall-clock times survive DST transitions
//   - RDATE instants are unioned in, EXDATE instants subtracted
//   - iteration stops at COUNT / UNTIL or at the first start >= window.End
func (x *Expander) Expand(rec model.EventRecord, window model.TimeRange) (iter.Seq[model.Occurrence], error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	c, err := compile(rec)
	if err != nil {
		return nil, err
	}
	return c.occurrences(window), nil
}

// Produces reports whether the recurrence set of rec (RRULE and RDATE,
// ignoring EXDATE) contains instant.
func (x *Expander) Produces(rec model.EventRecord, instant time.Time) (bool, error) {
	c, err := compile(rec)
	if err != nil {
		return false, err
	}
	return c.produces(instant), nil
}

// Collect drains seq up to the per-event cap. truncated is true when the
// sequence had more occurrences than the cap allows.
func (x *Expander) Collect(seq iter.Seq[model.Occurrence]) (out []model.Occurrence, truncated bool) {
	limit := x.opts.MaxOccurrencesPerEvent
	for occ := range seq {
		if len(out) == limit {
			return out, true
		}
		out = append(out, occ)
	}
	return out, false
}

// compiled is an event record prepared for repeated evaluation.
type compiled struct {
	rec    model.EventRecord
	rule   *rrule.RRule
	opt    rrule.ROption
	rdates []time.Time

	exInstants map[int64]struct{}
	exDays     map[model.Day]struct{}

	duration time.Duration
	days     int
}

func compile(rec model.EventRecord) (*compiled, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	c := &compiled{
		rec:        rec,
		exInstants: make(map[int64]struct{}, len(rec.ExceptionDates)),
		exDays:     make(map[model.Day]struct{}),
		duration:   rec.Duration(),
	}

	if rec.AllDay {
		c.days = civilDays(rec.Start, rec.End, rec.Zone())
	}

	if rec.Rule != nil {
		r, err := buildRule(rec)
		if err != nil {
			return nil, err
		}
		c.rule = r
		c.opt = *rec.Rule.Options
		c.opt.Dtstart = rec.Start
	}

	if len(rec.RecurrenceDates) > 0 {
		c.rdates = make([]time.Time, 0, len(rec.RecurrenceDates)+1)
		if c.rule == nil {
			// Without a rule DTSTART is the first member of the set.
			c.rdates = append(c.rdates, rec.Start)
		}
		for _, rd := range rec.RecurrenceDates {
			c.rdates = append(c.rdates, rd.In(rec.Zone()))
		}
		slices.SortFunc(c.rdates, time.Time.Compare)
	}

	for _, ex := range rec.ExceptionDates {
		if rec.AllDay {
			c.exDays[model.DayOf(ex, rec.Zone())] = struct{}{}
			continue
		}
		c.exInstants[ex.UnixNano()] = struct{}{}
	}

	return c, nil
}

func buildRule(rec model.EventRecord) (*rrule.RRule, error) {
	if rec.Rule.Options == nil {
		return nil, fmt.Errorf("%w: uid %s: unparseable RRULE %q", model.ErrMalformedRecurrence, rec.UID, rec.Rule.Raw)
	}
	opt := *rec.Rule.Options
	opt.Dtstart = rec.Start
	if err := checkRule(&opt); err != nil {
		return nil, fmt.Errorf("%w: uid %s: %v", model.ErrMalformedRecurrence, rec.UID, err)
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: uid %s: %v", model.ErrMalformedRecurrence, rec.UID, err)
	}
	return r, nil
}

// iterator returns a fresh, ordered, duplicate-free iterator over the start
// instants of the recurrence set that may fall at or after from. Every call
// builds its own rrule.Set so nothing is shared between iterations.
func (c *compiled) iterator(from time.Time) func() (time.Time, bool) {
	if c.rule == nil && len(c.rdates) == 0 {
		done := false
		return func() (time.Time, bool) {
			if done {
				return time.Time{}, false
			}
			done = true
			return c.rec.Start, true
		}
	}

	var set rrule.Set
	if c.rule != nil {
		set.RRule(c.ruleFrom(from))
	}
	for _, rd := range c.rdates {
		set.RDate(rd)
	}
	next := set.Iterator()

	var last time.Time
	return func() (time.Time, bool) {
		for {
			t, ok := next()
			if !ok {
				return time.Time{}, false
			}
			if !last.IsZero() && t.Equal(last) {
				continue
			}
			last = t
			return t, true
		}
	}
}

func (c *compiled) occurrences(window model.TimeRange) iter.Seq[model.Occurrence] {
	return func(yield func(model.Occurrence) bool) {
		from := window.Start.Add(-c.duration)
		if c.rec.AllDay {
			from = window.Start.AddDate(0, 0, -c.days)
		}
		next := c.iterator(from)
		for {
			start, ok := next()
			if !ok || !start.Before(window.End) {
				return
			}
			if c.excluded(start) {
				continue
			}
			end := c.endOf(start)
			if !window.Overlaps(start, end) {
				continue
			}
			if !yield(model.NewOccurrence(c.rec, start, start, end)) {
				return
			}
		}
	}
}

func (c *compiled) produces(instant time.Time) bool {
	from, to := instant, instant
	if c.rec.AllDay {
		d := model.DayOf(instant, c.rec.Zone())
		from, to = d.Start(c.rec.Zone()), d.AddDays(1).Start(c.rec.Zone())
	}

	next := c.iterator(from)
	for {
		t, ok := next()
		if !ok || t.After(to) {
			return false
		}
		if t.Before(from) {
			continue
		}
		if c.sameInstant(t, instant) {
			return true
		}
	}
}

// ruleFrom returns the rule, restarted shortly before from when it is an
// HOURLY, MINUTELY or SECONDLY rule without COUNT. rrule-go steps in wall
// clock time, so a restart on a multiple of the step from DTSTART yields the
// same instants after from as the original rule.
func (c *compiled) ruleFrom(from time.Time) *rrule.RRule {
	start, ok := restartPoint(c.opt, from)
	if !ok {
		return c.rule
	}
	opt := c.opt
	opt.Dtstart = start
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return c.rule
	}
	return r
}

func restartPoint(opt rrule.ROption, target time.Time) (time.Time, bool) {
	var unit time.Duration
	switch opt.Freq {
	case rrule.HOURLY:
		unit = time.Hour
	case rrule.MINUTELY:
		unit = time.Minute
	case rrule.SECONDLY:
		unit = time.Second
	default:
		return time.Time{}, false
	}
	if opt.Count > 0 || opt.Dtstart.IsZero() {
		return time.Time{}, false
	}

	loc := opt.Dtstart.Location()
	base := wallClock(opt.Dtstart)
	step := time.Duration(max(opt.Interval, 1)) * unit
	gap := wallClock(target.In(loc)).Sub(base) - restartMargin
	if gap < step {
		return time.Time{}, false
	}

	// A wall clock time skipped by a DST gap would shift the step lattice;
	// fall back to an earlier step in that case.
	for n := gap / step; n > 0; n-- {
		w := base.Add(n * step)
		t := time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, loc)
		if wallClock(t).Equal(w) {
			return t, true
		}
	}
	return time.Time{}, false
}

// wallClock drops the zone of t, keeping its local date and time.
func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, m, d, h, mi, s, 0, time.UTC)
}

func (c *compiled) excluded(t time.Time) bool {
	if c.rec.AllDay {
		_, ok := c.exDays[model.DayOf(t, c.rec.Zone())]
		return ok
	}
	_, ok := c.exInstants[t.UnixNano()]
	return ok
}

func (c *compiled) sameInstant(a, b time.Time) bool {
	if c.rec.AllDay {
		return model.DayOf(a, c.rec.Zone()) == model.DayOf(b, c.rec.Zone())
	}
	return a.Equal(b)
}

// endOf preserves the base duration. All-day events keep their length in
// calendar days so that a DST shift never moves their end off midnight.
func (c *compiled) endOf(start time.Time) time.Time {
	if c.rec.AllDay && c.days > 0 {
		return start.AddDate(0, 0, c.days)
	}
	return start.Add(c.duration)
}

func civilDays(start, end time.Time, loc *time.Location) int {
	a := model.DayOf(start, loc).Start(time.UTC)
	b := model.DayOf(end, loc).Start(time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
