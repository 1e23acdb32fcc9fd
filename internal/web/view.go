package web

import (
	"time"

	"statical/internal/aggregate"
	"statical/internal/index"
	"statical/internal/model"
)

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID     string    `json:"source_id"`
	UID          string    `json:"uid"`
	InstanceKey  string    `json:"instance_key"`
	RecurrenceID time.Time `json:"recurrence_id"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	AllDay       bool      `json:"all_day"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Sequence     int       `json:"sequence"`
	Status       string    `json:"status,omitempty"`
	Overridden   bool      `json:"overridden,omitempty"`
	Orphan       bool      `json:"orphan,omitempty"`
}

type dayDTO struct {
	Date        model.Day       `json:"date"`
	Weekday     string          `json:"weekday"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

type weekDTO struct {
	Start model.Day `json:"start"`
	Days  []dayDTO  `json:"days"`
}

type monthDTO struct {
	Year  int      `json:"year"`
	Month string   `json:"month"`
	Days  []dayDTO `json:"days"`
}

type warningDTO struct {
	Kind         model.WarningKind `json:"kind"`
	SourceID     string            `json:"source_id,omitempty"`
	UID          string            `json:"uid,omitempty"`
	RecurrenceID *time.Time        `json:"recurrence_id,omitempty"`
	Message      string            `json:"message"`
}

type sourceDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Priority    int      `json:"priority"`
	OK          bool     `json:"ok"`
	FromCache   bool     `json:"from_cache,omitempty"`
	Records     int      `json:"records"`
	Occurrences int      `json:"occurrences"`
	Unparsed    []string `json:"unparsed,omitempty"`
	Error       string   `json:"error,omitempty"`
}

type statsDTO struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	Duplicates int `json:"duplicates"`
	Replaced   int `json:"replaced"`
}

// View is the JSON view model of one aggregation result: every display day
// with its occurrences plus the run's warnings.
type View struct {
	RunID           string       `json:"run_id"`
	GeneratedAt     time.Time    `json:"generated_at"`
	RangeStart      time.Time    `json:"range_start"`
	RangeEnd        time.Time    `json:"range_end"`
	DisplayTimeZone string       `json:"display_timezone"`
	Days            []dayDTO     `json:"days"`
	Warnings        []warningDTO `json:"warnings"`
	Sources         []sourceDTO  `json:"sources"`
	Stats           statsDTO     `json:"stats"`
}

// BuildView converts res into its JSON view model.
func BuildView(res *aggregate.Result) View {
	loc := res.Index.Location()
	return View{
		RunID:           res.RunID,
		GeneratedAt:     res.GeneratedAt,
		RangeStart:      res.Window.Start,
		RangeEnd:        res.Window.End,
		DisplayTimeZone: loc.String(),
		Days:            toDays(res.Index.Days(), loc),
		Warnings:        toWarnings(res.Warnings),
		Sources:         toSources(res.Sources),
		Stats: statsDTO{
			Input:      res.Stats.Input,
			Output:     res.Stats.Output,
			Duplicates: res.Stats.Duplicates,
			Replaced:   res.Stats.Replaced,
		},
	}
}

func toOccurrence(occ model.Occurrence, loc *time.Location) occurrenceDTO {
	occ = occ.In(loc)
	return occurrenceDTO{
		SourceID:     occ.SourceID,
		UID:          occ.UID,
		InstanceKey:  occ.InstanceKey,
		RecurrenceID: occ.RecurrenceID,
		Summary:      occ.Summary,
		Description:  occ.Description,
		Location:     occ.Location,
		AllDay:       occ.AllDay,
		Start:        occ.Start,
		End:          occ.End,
		Sequence:     occ.Sequence,
		Status:       string(occ.Status),
		Overridden:   occ.Overridden,
		Orphan:       occ.Orphan,
	}
}

func toOccurrences(occs []model.Occurrence, loc *time.Location) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occs))
	for _, occ := range occs {
		out = append(out, toOccurrence(occ, loc))
	}
	return out
}

func toDay(b index.DayBucket, loc *time.Location) dayDTO {
	return dayDTO{
		Date:        b.Day,
		Weekday:     b.Day.Weekday().String(),
		Occurrences: toOccurrences(b.Occurrences, loc),
	}
}

func toDays(buckets []index.DayBucket, loc *time.Location) []dayDTO {
	out := make([]dayDTO, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, toDay(b, loc))
	}
	return out
}

func toWarnings(ws []model.Warning) []warningDTO {
	out := make([]warningDTO, 0, len(ws))
	for _, w := range ws {
		out = append(out, warningDTO{
			Kind:         w.Kind,
			SourceID:     w.SourceID,
			UID:          w.UID,
			RecurrenceID: w.RecurrenceID,
			Message:      w.Message(),
		})
	}
	return out
}

func toSources(ss []aggregate.SourceStatus) []sourceDTO {
	out := make([]sourceDTO, 0, len(ss))
	for _, s := range ss {
		dto := sourceDTO{
			ID:          s.ID,
			Name:        s.Name,
			Priority:    s.Priority,
			OK:          s.OK,
			FromCache:   s.FromCache,
			Records:     s.Records,
			Occurrences: s.Occurrences,
			Unparsed:    s.Unparsed,
		}
		if s.Err != nil {
			dto.Error = s.Err.Error()
		}
		out = append(out, dto)
	}
	return out
}
