package caldav

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/teambition/rrule-go"

	"statical/internal/ics"
	"statical/internal/model"
)

// convertObject turns every VEVENT of a calendar object into an event
// record. A CalDAV object holds one UID but may carry the base event and
// its overrides side by side.
func convertObject(sourceID string, obj *caldav.CalendarObject, loc *time.Location) ([]model.EventRecord, []error) {
	if obj.Data == nil {
		return nil, []error{fmt.Errorf("%w: no data in calendar object %s", model.ErrInvalidRecord, obj.Path)}
	}

	var (
		out  []model.EventRecord
		errs []error
	)
	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		rec, err := convertEvent(sourceID, comp, loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", obj.Path, err))
			continue
		}
		out = append(out, rec)
	}
	return out, errs
}

func convertEvent(sourceID string, comp *ical.Component, loc *time.Location) (model.EventRecord, error) {
	rec := model.EventRecord{SourceID: sourceID}

	text := func(name string) string {
		if p := comp.Props.Get(name); p != nil {
			return p.Value
		}
		return ""
	}

	rec.UID = text(ical.PropUID)
	if rec.UID == "" {
		return rec, fmt.Errorf("%w: missing UID", model.ErrInvalidRecord)
	}
	rec.Summary = text(ical.PropSummary)
	rec.Description = text(ical.PropDescription)
	rec.Location = text(ical.PropLocation)
	rec.Status = model.Status(strings.ToUpper(text(ical.PropStatus)))

	if p := comp.Props.Get(ical.PropSequence); p != nil {
		if n, err := p.Int(); err == nil {
			rec.Sequence = n
		}
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return rec, fmt.Errorf("%w: uid %s has no DTSTART", model.ErrInvalidRecord, rec.UID)
	}
	start, err := startProp.DateTime(loc)
	if err != nil {
		return rec, fmt.Errorf("%w: uid %s DTSTART: %v", model.ErrInvalidRecord, rec.UID, err)
	}
	rec.Start = start
	rec.AllDay = isDate(startProp)
	eventLoc := start.Location()

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, err := comp.Props.Get(ical.PropDateTimeEnd).DateTime(eventLoc)
		if err != nil {
			return rec, fmt.Errorf("%w: uid %s DTEND: %v", model.ErrInvalidRecord, rec.UID, err)
		}
		rec.End = end
	case comp.Props.Get(ical.PropDuration) != nil:
		d, err := ics.ParseDuration(comp.Props.Get(ical.PropDuration).Value)
		if err != nil {
			return rec, fmt.Errorf("%w: uid %s DURATION: %v", model.ErrInvalidRecord, rec.UID, err)
		}
		rec.End = d.AddTo(start)
	case rec.AllDay:
		rec.End = start.AddDate(0, 0, 1)
	default:
		rec.End = start
	}

	if raw := text(ical.PropRecurrenceRule); raw != "" {
		rec.Rule = &model.Rule{Raw: raw}
		if opt, err := rrule.StrToROptionInLocation(raw, eventLoc); err == nil {
			rec.Rule.Options = opt
		}
	}

	rec.ExceptionDates = dateList(comp.Props.Values(ical.PropExceptionDates), eventLoc)
	rec.RecurrenceDates = dateList(comp.Props.Values(ical.PropRecurrenceDates), eventLoc)

	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		rid, err := p.DateTime(eventLoc)
		if err != nil {
			return rec, fmt.Errorf("%w: uid %s RECURRENCE-ID: %v", model.ErrInvalidRecord, rec.UID, err)
		}
		rec.RecurrenceID = &rid
	}

	return rec, rec.Validate()
}

func isDate(p *ical.Prop) bool {
	if p.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// dateList expands comma separated EXDATE / RDATE values.
func dateList(props []ical.Prop, loc *time.Location) []time.Time {
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
			single := p
			single.Value = part
			if t, err := single.DateTime(loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}
