package ics

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "statical/internal/log"
	"statical/internal/model"
)

const (
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propRdate        = ical.ComponentProperty("RDATE")
	propStatus       = ical.ComponentProperty("STATUS")
	propDuration     = ical.ComponentProperty("DURATION")
)

// knownProperties are the VEVENT properties the parser maps or deliberately
// ignores. Anything else ends up in ParseResult.Unparsed.
var knownProperties = map[string]struct{}{
	"UID": {}, "SEQUENCE": {}, "SUMMARY": {}, "DESCRIPTION": {}, "LOCATION": {},
	"DTSTART": {}, "DTEND": {}, "DURATION": {}, "RRULE": {}, "RDATE": {}, "EXDATE": {},
	"RECURRENCE-ID": {}, "STATUS": {}, "DTSTAMP": {}, "CREATED": {}, "LAST-MODIFIED": {},
	"TRANSP": {}, "CLASS": {}, "ORGANIZER": {}, "ATTENDEE": {}, "URL": {},
}

// ParseResult is the outcome of parsing one ICS payload.
type ParseResult struct {
	Records []model.EventRecord
	// Skipped holds one error per VEVENT that could not be converted.
	Skipped []error
	// Unparsed lists property names present in the feed but not mapped.
	Unparsed []string
}

// Parse parses a single ICS payload into event records.
//
//   - TZID parameters are resolved with time.LoadLocation.
//   - Floating values (no TZID, no trailing Z) use the calendar's
//     X-WR-TIMEZONE, or defaultLoc when the feed declares none.
//   - RRULE values are parsed into rrule options; a rule that fails to parse
//     is kept in raw form so the expander can report it.
//   - A VEVENT that cannot be converted is skipped; the rest of the feed is
//     still returned.
func Parse(src Source, body []byte, defaultLoc *time.Location) (ParseResult, error) {
	var res ParseResult
	if len(body) == 0 {
		return res, errors.New("empty ICS body")
	}
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return res, err
	}

	loc := calendarLocation(cal, defaultLoc)
	unparsed := make(map[string]struct{})

	for _, ve := range cal.Events() {
		rec, perr := parseVEvent(src.ID, ve, loc)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID)
			res.Skipped = append(res.Skipped, perr)
			continue
		}
		res.Records = append(res.Records, rec)

		for _, p := range ve.Properties {
			name := strings.ToUpper(p.IANAToken)
			if _, ok := knownProperties[name]; !ok && !strings.HasPrefix(name, "X-") {
				unparsed[name] = struct{}{}
			}
		}
	}

	for name := range unparsed {
		res.Unparsed = append(res.Unparsed, name)
	}
	slices.Sort(res.Unparsed)

	appLog.Info("ics parse completed", "id", src.ID, "event_count", len(res.Records), "skipped", len(res.Skipped))
	return res, nil
}

func calendarLocation(cal *ical.Calendar, fallback *time.Location) *time.Location {
	for _, p := range cal.CalendarProperties {
		if !strings.EqualFold(p.IANAToken, "X-WR-TIMEZONE") {
			continue
		}
		if loc, err := time.LoadLocation(strings.TrimSpace(p.Value)); err == nil {
			return loc
		}
	}
	return fallback
}

func parseVEvent(sourceID string, ve *ical.VEvent, loc *time.Location) (model.EventRecord, error) {
	out := model.EventRecord{SourceID: sourceID}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, fmt.Errorf("%w: missing UID", model.ErrInvalidRecord)
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Sequence = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(propStatus); p != nil {
		out.Status = model.Status(strings.ToUpper(strings.TrimSpace(p.Value)))
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, fmt.Errorf("%w: uid %s has no DTSTART", model.ErrInvalidRecord, out.UID)
	}
	start, dateOnly, err := parseTime(startProp.Value, startProp.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("%w: uid %s DTSTART: %v", model.ErrInvalidRecord, out.UID, err)
	}
	out.Start = start
	out.AllDay = dateOnly
	eventLoc := start.Location()

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, _, err := parseTime(p.Value, p.ICalParameters, eventLoc)
		if err != nil {
			return out, fmt.Errorf("%w: uid %s DTEND: %v", model.ErrInvalidRecord, out.UID, err)
		}
		out.End = end
	case ve.GetProperty(propDuration) != nil:
		d, err := ParseDuration(ve.GetProperty(propDuration).Value)
		if err != nil {
			return out, fmt.Errorf("%w: uid %s DURATION: %v", model.ErrInvalidRecord, out.UID, err)
		}
		out.End = d.AddTo(start)
	case out.AllDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		out.Rule = &model.Rule{Raw: p.Value}
		if opt, err := rrule.StrToROptionInLocation(p.Value, eventLoc); err == nil {
			out.Rule.Options = opt
		} else {
			appLog.Debug("ics rrule parse failed", "uid", out.UID, "rrule", p.Value, "err", err)
		}
	}

	out.ExceptionDates = parseTimeList(ve.GetProperties(ical.ComponentPropertyExdate), eventLoc)
	out.RecurrenceDates = parseTimeList(ve.GetProperties(propRdate), eventLoc)

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		rid, _, err := parseTime(p.Value, p.ICalParameters, eventLoc)
		if err != nil {
			return out, fmt.Errorf("%w: uid %s RECURRENCE-ID: %v", model.ErrInvalidRecord, out.UID, err)
		}
		out.RecurrenceID = &rid
	}

	return out, out.Validate()
}

// parseTimeList collects the comma separated values of EXDATE / RDATE
// properties. PERIOD values contribute their start.
func parseTimeList(props []*ical.IANAProperty, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if i := strings.IndexByte(part, '/'); i >= 0 {
				part = part[:i]
			}
			if part == "" {
				continue
			}
			if t, _, err := parseTime(part, p.ICalParameters, loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parseTime parses an ICS DATE or DATE-TIME value. dateOnly reports a DATE
// value, which is anchored at midnight of loc (or of TZID when given).
func parseTime(value string, params map[string][]string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if tzid := param(params, "TZID"); tzid != "" {
		if tzLoc, lerr := time.LoadLocation(tzid); lerr == nil {
			loc = tzLoc
		} else {
			appLog.Debug("ics unknown TZID, using default zone", "tzid", tzid, "zone", loc.String())
		}
	}

	if strings.EqualFold(param(params, "VALUE"), "DATE") || !strings.Contains(value, "T") {
		t, err = time.ParseInLocation("20060102", value, loc)
		return t, true, err
	}
	if strings.HasSuffix(value, "Z") {
		t, err = time.Parse("20060102T150405Z", value)
		return t, false, err
	}
	t, err = time.ParseInLocation("20060102T150405", value, loc)
	return t, false, err
}

func param(params map[string][]string, name string) string {
	if params == nil {
		return ""
	}
	vs, ok := params[name]
	if !ok || len(vs) == 0 {
		return ""
	}
	return strings.Trim(vs[0], `"`)
}
