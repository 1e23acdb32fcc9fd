package aggregate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"statical/internal/model"
)

// WindowFunc returns the window of a run started at now.
type WindowFunc func(now time.Time) model.TimeRange

// Service keeps the latest successful Result and refreshes it on demand.
// Readers never block on a refresh; a new Result is swapped in atomically.
type Service struct {
	runner  *Runner
	sources []SourceSpec
	window  WindowFunc
	timeout time.Duration

	refreshMu sync.Mutex
	current   atomic.Pointer[Result]
	lastErr   atomic.Pointer[error]
}

// NewService creates a Service. timeout bounds each refresh; zero means
// only the caller's context applies.
func NewService(runner *Runner, sources []SourceSpec, window WindowFunc, timeout time.Duration) *Service {
	return &Service{
		runner:  runner,
		sources: sources,
		window:  window,
		timeout: timeout,
	}
}

// Current returns the latest successful result, or nil before the first one.
func (s *Service) Current() *Result {
	return s.current.Load()
}

// LastError returns the error of the most recent refresh, if it failed.
func (s *Service) LastError() error {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Refresh runs one aggregation. Concurrent calls are serialized. On failure
// the previous result stays current.
func (s *Service) Refresh(ctx context.Context) (*Result, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.runner.Run(ctx, s.sources, s.window(s.runner.now()))
	if err != nil {
		s.lastErr.Store(&err)
		return nil, err
	}
	s.lastErr.Store(nil)
	s.current.Store(res)
	return res, nil
}
