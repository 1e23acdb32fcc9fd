package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "statical/internal/log"
)

// Refresher is the job the scheduler runs.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(ctx context.Context) error

func (f RefreshFunc) Refresh(ctx context.Context) error { return f(ctx) }

// Scheduler runs a refresh on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	spec      string
	refresher Refresher
	ctx       context.Context
}

// New creates a Scheduler evaluating spec in loc.
func New(spec string, loc *time.Location, refresher Refresher) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:      c,
		spec:      spec,
		refresher: refresher,
	}
}

// Validate checks a standard five-field cron expression.
func Validate(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Start registers the refresh job and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc(s.spec, s.refresh); err != nil {
		return fmt.Errorf("add refresh job: %w", err)
	}

	s.cron.Start()
	appLog.Info("scheduler started", "refresh", s.spec)

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("scheduler stopped")
}

func (s *Scheduler) refresh() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	if err := s.refresher.Refresh(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
		return
	}
	appLog.Info("scheduled refresh completed", "elapsed", time.Since(started).String())
}
