package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"statical/internal/expand"
	"statical/internal/index"
	appLog "statical/internal/log"
	"statical/internal/merge"
	"statical/internal/model"
)

// Batch is what a provider returns for one source.
type Batch struct {
	Records []model.EventRecord
	// Skipped holds per-record conversion failures.
	Skipped []error
	// Unparsed lists feed properties the parser did not map.
	Unparsed  []string
	FromCache bool
}

// Provider loads the event records of one source.
type Provider interface {
	Records(ctx context.Context, window model.TimeRange) (Batch, error)
}

// SourceSpec is one entry of the explicit source list passed to Run.
type SourceSpec struct {
	ID       string
	Name     string
	Priority int
	Provider Provider
}

// SourceStatus reports how one source fared during a run.
type SourceStatus struct {
	ID          string
	Name        string
	Priority    int
	OK          bool
	FromCache   bool
	Records     int
	Occurrences int
	Unparsed    []string
	Err         error
}

// Result is the outcome of one aggregation run.
type Result struct {
	RunID       string
	GeneratedAt time.Time
	Window      model.TimeRange
	Index       *index.Index
	Warnings    []model.Warning
	Sources     []SourceStatus
	Stats       merge.Stats
}

// Options configures a Runner.
type Options struct {
	// Workers bounds concurrent source loads. Defaults to 4.
	Workers         int
	Expand          expand.Options
	Dedup           merge.Policy
	DisplayLocation *time.Location
}

// Runner loads, expands, merges and indexes a list of sources.
type Runner struct {
	opts     Options
	expander *expand.Expander
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.DisplayLocation == nil {
		opts.DisplayLocation = time.UTC
	}
	return &Runner{
		opts:     opts,
		expander: expand.New(opts.Expand),
		now:      time.Now,
	}
}

type sourceOutcome struct {
	status   SourceStatus
	stream   merge.Stream
	warnings []model.Warning
}

// Run aggregates sources over window.
//
// Each source is loaded and expanded on its own goroutine. A source that
// fails is reported as a source_unavailable warning and the others still
// contribute. Run returns an error only when the window is unbounded or no
// source could be loaded.
func (r *Runner) Run(ctx context.Context, sources []SourceSpec, window model.TimeRange) (*Result, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", model.ErrNoSources)
	}

	runID := uuid.NewString()
	logger := appLog.With("run_id", runID)
	started := r.now()
	logger.Info("aggregation started", "sources", len(sources), "window", window.String())

	outcomes := make([]sourceOutcome, len(sources))

	// Failures stay in their own slot, so no goroutine returns an error.
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i] = r.runSource(ctx, logger, src, window)
			return nil
		})
	}
	g.Wait()

	res := &Result{
		RunID:       runID,
		GeneratedAt: started,
		Window:      window,
	}

	var (
		streams []merge.Stream
		errs    []error
	)
	for _, out := range outcomes {
		res.Sources = append(res.Sources, out.status)
		res.Warnings = append(res.Warnings, out.warnings...)
		if !out.status.OK {
			errs = append(errs, out.status.Err)
			continue
		}
		streams = append(streams, out.stream)
	}

	if len(streams) == 0 {
		err := fmt.Errorf("%w: all %d sources failed: %w", model.ErrNoSources, len(sources), errors.Join(errs...))
		logger.Error("aggregation failed", err)
		return nil, err
	}

	merged, stats := merge.Merge(streams, r.opts.Dedup)
	res.Stats = stats
	res.Index = index.Build(merged, index.Options{DisplayLocation: r.opts.DisplayLocation})

	logger.Info("aggregation completed",
		"occurrences", res.Index.Len(),
		"duplicates", stats.Duplicates,
		"warnings", len(res.Warnings),
		"failed_sources", len(errs),
		"elapsed", r.now().Sub(started).String(),
	)
	return res, nil
}

func (r *Runner) runSource(ctx context.Context, logger appLog.Logger, src SourceSpec, window model.TimeRange) sourceOutcome {
	out := sourceOutcome{
		status: SourceStatus{ID: src.ID, Name: src.Name, Priority: src.Priority},
	}

	fail := func(err error) sourceOutcome {
		err = fmt.Errorf("%w: %s: %w", model.ErrSourceUnavailable, src.ID, err)
		out.status.Err = err
		out.warnings = append(out.warnings, model.Warning{
			Kind:     model.WarningSourceUnavailable,
			SourceID: src.ID,
			Err:      err,
		})
		logger.Error("source unavailable", err, "id", src.ID)
		return out
	}

	if src.Provider == nil {
		return fail(errors.New("no provider"))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	batch, err := src.Provider.Records(ctx, window)
	if err != nil {
		return fail(err)
	}

	for _, skipped := range batch.Skipped {
		out.warnings = append(out.warnings, model.Warning{
			Kind:     model.WarningInvalidRecord,
			SourceID: src.ID,
			Err:      skipped,
		})
	}

	sr, err := r.expander.ExpandSource(src.ID, batch.Records, window)
	if err != nil {
		return fail(err)
	}
	out.warnings = append(out.warnings, sr.Warnings...)

	out.status.OK = true
	out.status.FromCache = batch.FromCache
	out.status.Records = len(batch.Records)
	out.status.Occurrences = len(sr.Occurrences)
	out.status.Unparsed = batch.Unparsed
	out.stream = merge.Stream{
		SourceID:    src.ID,
		Priority:    src.Priority,
		Occurrences: sr.Occurrences,
	}

	logger.Debug("source expanded",
		"id", src.ID,
		"records", len(batch.Records),
		"occurrences", len(sr.Occurrences),
		"warnings", len(sr.Warnings),
		"truncated", len(sr.Truncated),
	)
	if len(batch.Unparsed) > 0 {
		logger.Info("source has unparsed properties", "id", src.ID, "properties", batch.Unparsed)
	}
	return out
}
