package aggregate

import (
	"context"
	"fmt"
	"time"

	"statical/internal/caldav"
	"statical/internal/config"
	"statical/internal/expand"
	"statical/internal/ics"
	"statical/internal/merge"
	"statical/internal/model"
)

// ICSProvider loads an ICS feed from a URL or a local file.
type ICSProvider struct {
	Fetcher *ics.Fetcher
	Source  ics.Source
	// Location is the zone for floating times.
	Location *time.Location
}

func (p *ICSProvider) Records(ctx context.Context, _ model.TimeRange) (Batch, error) {
	fetched, err := p.Fetcher.Load(ctx, p.Source)
	if err != nil {
		return Batch{}, err
	}
	parsed, err := ics.Parse(p.Source, fetched.Body, p.Location)
	if err != nil {
		return Batch{}, fmt.Errorf("parse: %w", err)
	}
	return Batch{
		Records:   parsed.Records,
		Skipped:   parsed.Skipped,
		Unparsed:  parsed.Unparsed,
		FromCache: fetched.FromCache,
	}, nil
}

// CalDAVProvider queries a CalDAV server.
type CalDAVProvider struct {
	Client *caldav.Client
}

func (p *CalDAVProvider) Records(ctx context.Context, window model.TimeRange) (Batch, error) {
	records, skipped, err := p.Client.Records(ctx, window)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Records: records, Skipped: skipped}, nil
}

// SourcesFromConfig builds the explicit source list of a run from cfg.
func SourcesFromConfig(cfg *config.Config, fetcher *ics.Fetcher) ([]SourceSpec, error) {
	specs := make([]SourceSpec, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		loc := cfg.SourceLocation(s)

		var provider Provider
		switch s.Kind {
		case config.KindURL:
			provider = &ICSProvider{Fetcher: fetcher, Source: ics.Source{ID: s.ID, URL: s.URL}, Location: loc}
		case config.KindFile:
			provider = &ICSProvider{Fetcher: fetcher, Source: ics.Source{ID: s.ID, Path: s.Path}, Location: loc}
		case config.KindCalDAV:
			provider = &CalDAVProvider{Client: caldav.NewClient(caldav.Options{
				SourceID:   s.ID,
				BaseURL:    s.URL,
				Username:   s.Username,
				Password:   s.Password,
				Calendar:   s.Calendar,
				DefaultLoc: loc,
				Timeout:    cfg.RunTimeout(),
			})}
		default:
			return nil, fmt.Errorf("source %s: unknown kind %q", s.ID, s.Kind)
		}

		specs = append(specs, SourceSpec{
			ID:       s.ID,
			Name:     s.Name,
			Priority: s.Priority,
			Provider: provider,
		})
	}
	return specs, nil
}

// OptionsFromConfig maps cfg onto runner options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:         cfg.Workers,
		Expand:          expand.Options{MaxOccurrencesPerEvent: cfg.MaxOccurrencesPerEvent},
		Dedup:           merge.Policy{ByUID: cfg.Dedup.ByUID, ByContent: cfg.Dedup.ByContent},
		DisplayLocation: cfg.Location(),
	}
}
