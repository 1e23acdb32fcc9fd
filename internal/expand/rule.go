package expand

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"
)

// checkRule rejects rules whose BY* parts are out of range or can never be
// satisfied together. rrule-go would otherwise keep searching for a match
// until its MAXYEAR limit. opt.Dtstart must already be set.
func checkRule(opt *rrule.ROption) error {
	if opt.Interval < 0 {
		return fmt.Errorf("negative INTERVAL %d", opt.Interval)
	}
	if opt.Count < 0 {
		return fmt.Errorf("negative COUNT %d", opt.Count)
	}
	if err := checkRange("BYMONTH", opt.Bymonth, 1, 12, false); err != nil {
		return err
	}
	if err := checkRange("BYMONTHDAY", opt.Bymonthday, 1, 31, true); err != nil {
		return err
	}
	if err := checkRange("BYYEARDAY", opt.Byyearday, 1, 366, true); err != nil {
		return err
	}
	if err := checkRange("BYWEEKNO", opt.Byweekno, 1, 53, true); err != nil {
		return err
	}
	if err := checkRange("BYSETPOS", opt.Bysetpos, 1, 366, true); err != nil {
		return err
	}
	if err := checkRange("BYHOUR", opt.Byhour, 0, 23, false); err != nil {
		return err
	}
	if err := checkRange("BYMINUTE", opt.Byminute, 0, 59, false); err != nil {
		return err
	}
	if err := checkRange("BYSECOND", opt.Bysecond, 0, 60, false); err != nil {
		return err
	}
	if err := checkDays(opt); err != nil {
		return err
	}
	return checkTimes(opt)
}

func checkRange(name string, values []int, lo, hi int, signed bool) error {
	for _, v := range values {
		abs := v
		if signed && v < 0 {
			abs = -v
		}
		if abs < lo || abs > hi || (!signed && v < 0) {
			return fmt.Errorf("%s value %d out of range", name, v)
		}
	}
	return nil
}

// scanFrom and scanYears span a full 28 year cycle of the Gregorian
// calendar: every combination of leap year and weekday of January 1st.
const (
	scanFrom  = 2000
	scanYears = 28
)

// dayFilter holds the day-level BY* parts of a rule after rrule-go's
// defaulting from DTSTART has been applied.
type dayFilter struct {
	months    []int
	monthDays []int
	yearDays  []int
	weekNos   []int
	weekdays  []int // 0 = Monday
	wkst      int
}

func newDayFilter(opt *rrule.ROption) dayFilter {
	f := dayFilter{
		months:    opt.Bymonth,
		monthDays: opt.Bymonthday,
		yearDays:  opt.Byyearday,
		weekNos:   opt.Byweekno,
		wkst:      opt.Wkst.Day(),
	}
	for i := range opt.Byweekday {
		f.weekdays = append(f.weekdays, opt.Byweekday[i].Day())
	}

	if len(f.weekNos)+len(f.yearDays)+len(f.monthDays)+len(f.weekdays) > 0 || opt.Dtstart.IsZero() {
		return f
	}
	switch opt.Freq {
	case rrule.YEARLY:
		if len(f.months) == 0 {
			f.months = []int{int(opt.Dtstart.Month())}
		}
		f.monthDays = []int{opt.Dtstart.Day()}
	case rrule.MONTHLY:
		f.monthDays = []int{opt.Dtstart.Day()}
	case rrule.WEEKLY:
		f.weekdays = []int{weekdayIndex(opt.Dtstart.Weekday())}
	}
	return f
}

func (f dayFilter) empty() bool {
	return len(f.months)+len(f.monthDays)+len(f.yearDays)+len(f.weekNos)+len(f.weekdays) == 0
}

func (f dayFilter) matches(t time.Time) bool {
	if len(f.months) > 0 && !slices.Contains(f.months, int(t.Month())) {
		return false
	}
	if len(f.monthDays) > 0 {
		d, n := t.Day(), daysIn(t.Year(), t.Month())
		if !slices.Contains(f.monthDays, d) && !slices.Contains(f.monthDays, d-n-1) {
			return false
		}
	}
	if len(f.yearDays) > 0 {
		d, n := t.YearDay(), daysIn(t.Year(), 0)
		if !slices.Contains(f.yearDays, d) && !slices.Contains(f.yearDays, d-n-1) {
			return false
		}
	}
	if len(f.weekdays) > 0 && !slices.Contains(f.weekdays, weekdayIndex(t.Weekday())) {
		return false
	}
	if len(f.weekNos) > 0 {
		no, weeks := weekNumber(t, f.wkst)
		if !slices.Contains(f.weekNos, no) && !slices.Contains(f.weekNos, no-weeks-1) {
			return false
		}
	}
	return true
}

// checkDays fails when no calendar date passes the day-level BY* parts,
// e.g. BYMONTH=2;BYMONTHDAY=30 or BYYEARDAY=366;BYMONTH=1. Ordinal weekdays
// like 5FR are reduced to their weekday.
func checkDays(opt *rrule.ROption) error {
	f := newDayFilter(opt)
	if f.empty() {
		return nil
	}
	day := time.Date(scanFrom, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := day.AddDate(scanYears, 0, 0)
	for ; day.Before(end); day = day.AddDate(0, 0, 1) {
		if f.matches(day) {
			return nil
		}
	}
	return errors.New("BY* day constraints never match a calendar date")
}

// checkTimes fails when a sub-daily rule steps over every hour, minute or
// second its BY* parts allow, e.g. FREQ=HOURLY;INTERVAL=6;BYHOUR=10 from
// 09:00.
func checkTimes(opt *rrule.ROption) error {
	var unit int
	switch opt.Freq {
	case rrule.HOURLY:
		unit = 3600
	case rrule.MINUTELY:
		unit = 60
	case rrule.SECONDLY:
		unit = 1
	default:
		return nil
	}
	if len(opt.Byhour)+len(opt.Byminute)+len(opt.Bysecond) == 0 {
		return nil
	}

	perDay := 86400 / unit
	interval := max(opt.Interval, 1)
	step := gcd(interval, perDay)
	h, m, sec := opt.Dtstart.Clock()
	first := ((h*3600 + m*60 + sec) / unit) % step

	for pos := first; pos < perDay; pos += step {
		secs := pos * unit
		if len(opt.Byhour) > 0 && !slices.Contains(opt.Byhour, secs/3600) {
			continue
		}
		if unit <= 60 && len(opt.Byminute) > 0 && !slices.Contains(opt.Byminute, secs/60%60) {
			continue
		}
		if unit == 1 && len(opt.Bysecond) > 0 && !slices.Contains(opt.Bysecond, secs%60) {
			continue
		}
		return nil
	}
	return fmt.Errorf("INTERVAL=%d never reaches the BY* times of day", interval)
}

// weekNumber returns the RFC 5545 week number of t for week start wkst and
// the number of weeks of that week-numbering year.
func weekNumber(t time.Time, wkst int) (no, weeks int) {
	year := t.Year()
	start := firstWeekStart(year, wkst)
	switch {
	case t.Before(start):
		year--
		start = firstWeekStart(year, wkst)
	case !t.Before(firstWeekStart(year+1, wkst)):
		year++
		start = firstWeekStart(year, wkst)
	}
	next := firstWeekStart(year+1, wkst)
	weeks = int(next.Sub(start).Hours()/24) / 7
	no = int(t.Sub(start).Hours()/24)/7 + 1
	return no, weeks
}

// firstWeekStart returns the first day of week 1: the first week holding at
// least four days of year.
func firstWeekStart(year, wkst int) time.Time {
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	offset := (weekdayIndex(jan1.Weekday()) - wkst + 7) % 7
	if 7-offset >= 4 {
		return jan1.AddDate(0, 0, -offset)
	}
	return jan1.AddDate(0, 0, 7-offset)
}

// weekdayIndex maps a time.Weekday onto rrule-go's numbering, Monday = 0.
func weekdayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}

// daysIn returns the length of month m, or of the whole year for m == 0.
func daysIn(year int, m time.Month) int {
	if m == 0 {
		return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
	}
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
