package index

import (
	"slices"
	"sort"
	"time"

	"statical/internal/model"
)

// Options controls how the index groups occurrences.
type Options struct {
	// DisplayLocation is the zone used to group timed occurrences into days.
	// If nil, UTC is used.
	DisplayLocation *time.Location
}

// Index is an immutable, time-ordered view over merged occurrences.
type Index struct {
	loc         *time.Location
	occurrences []model.Occurrence
	days        map[model.Day][]int
	dayList     []model.Day
	// maxDuration bounds how far before a range an overlapping occurrence can
	// start, so range queries only scan a narrow prefix.
	maxDuration time.Duration
}

// DayBucket lists the occurrences touching one display day.
type DayBucket struct {
	Day         model.Day
	Occurrences []model.Occurrence
}

// Week groups the days of one week, starting on the configured weekday.
type Week struct {
	Start model.Day
	Days  []DayBucket
}

// Month groups the days of one calendar month.
type Month struct {
	Year  int
	Month time.Month
	Days  []DayBucket
}

// Build sorts occurrences and groups them by display day. A multi-day
// occurrence is listed on every day it touches, end exclusive.
func Build(occurrences []model.Occurrence, opts Options) *Index {
	loc := opts.DisplayLocation
	if loc == nil {
		loc = time.UTC
	}

	idx := &Index{
		loc:         loc,
		occurrences: slices.Clone(occurrences),
		days:        make(map[model.Day][]int),
	}
	slices.SortStableFunc(idx.occurrences, model.Compare)

	for i, occ := range idx.occurrences {
		if d := occ.Duration(); d > idx.maxDuration {
			idx.maxDuration = d
		}
		first, last := idx.span(occ)
		for d := first; !last.Before(d); d = d.AddDays(1) {
			idx.days[d] = append(idx.days[d], i)
		}
	}

	idx.dayList = make([]model.Day, 0, len(idx.days))
	for d := range idx.days {
		idx.dayList = append(idx.dayList, d)
	}
	slices.SortFunc(idx.dayList, model.Day.Compare)

	return idx
}

// span returns the first and last display day of occ. All-day occurrences
// keep the civil dates of their own zone.
func (idx *Index) span(occ model.Occurrence) (model.Day, model.Day) {
	loc := idx.loc
	if occ.AllDay {
		loc = occ.Start.Location()
	}
	first := model.DayOf(occ.Start, loc)
	if !occ.End.After(occ.Start) {
		return first, first
	}
	last := model.DayOf(occ.End.Add(-time.Nanosecond), loc)
	return first, last
}

// Location is the display zone of the index.
func (idx *Index) Location() *time.Location {
	return idx.loc
}

// Len is the number of occurrences.
func (idx *Index) Len() int {
	return len(idx.occurrences)
}

// All returns every occurrence in order.
func (idx *Index) All() []model.Occurrence {
	return slices.Clone(idx.occurrences)
}

// OccurrencesIn returns the occurrences overlapping r, in order.
func (idx *Index) OccurrencesIn(r model.TimeRange) []model.Occurrence {
	from := r.Start.Add(-idx.maxDuration)
	i := sort.Search(len(idx.occurrences), func(i int) bool {
		return !idx.occurrences[i].Start.Before(from)
	})

	out := make([]model.Occurrence, 0)
	for ; i < len(idx.occurrences); i++ {
		occ := idx.occurrences[i]
		if !occ.Start.Before(r.End) {
			break
		}
		if r.Overlaps(occ.Start, occ.End) {
			out = append(out, occ)
		}
	}
	return out
}

// OccurrencesOn returns the occurrences touching day in the display zone.
func (idx *Index) OccurrencesOn(day model.Day) []model.Occurrence {
	positions := idx.days[day]
	out := make([]model.Occurrence, 0, len(positions))
	for _, i := range positions {
		out = append(out, idx.occurrences[i])
	}
	return out
}

// Days lists every day that has at least one occurrence, in order.
func (idx *Index) Days() []DayBucket {
	out := make([]DayBucket, 0, len(idx.dayList))
	for _, d := range idx.dayList {
		out = append(out, DayBucket{Day: d, Occurrences: idx.OccurrencesOn(d)})
	}
	return out
}

// Weeks groups the populated days into weeks beginning on weekStart. Every
// returned week has seven days, empty ones included.
func (idx *Index) Weeks(weekStart time.Weekday) []Week {
	out := make([]Week, 0)
	for _, d := range idx.dayList {
		start := WeekStartOf(d, weekStart)
		if n := len(out); n > 0 && out[n-1].Start == start {
			continue
		}
		w := Week{Start: start, Days: make([]DayBucket, 0, 7)}
		for i := 0; i < 7; i++ {
			day := start.AddDays(i)
			w.Days = append(w.Days, DayBucket{Day: day, Occurrences: idx.OccurrencesOn(day)})
		}
		out = append(out, w)
	}
	return out
}

// Months groups the populated days by calendar month.
func (idx *Index) Months() []Month {
	out := make([]Month, 0)
	for _, d := range idx.dayList {
		n := len(out)
		if n == 0 || out[n-1].Year != d.Year || out[n-1].Month != d.Month {
			out = append(out, Month{Year: d.Year, Month: d.Month})
			n++
		}
		out[n-1].Days = append(out[n-1].Days, DayBucket{Day: d, Occurrences: idx.OccurrencesOn(d)})
	}
	return out
}

// WeekStartOf returns the first day of the week containing d.
func WeekStartOf(d model.Day, weekStart time.Weekday) model.Day {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDays(-offset)
}
