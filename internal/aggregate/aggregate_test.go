package aggregate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teambition/rrule-go"

	"statical/internal/config"
	"statical/internal/ics"
	"statical/internal/merge"
	"statical/internal/model"
)

type fakeProvider struct {
	batch Batch
	err   error
	calls atomic.Int32
}

func (p *fakeProvider) Records(ctx context.Context, _ model.TimeRange) (Batch, error) {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	return p.batch, p.err
}

var (
	day0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	week = model.NewTimeRange(day0, day0.AddDate(0, 0, 7))
)

func record(source, uid, summary string, start time.Time) model.EventRecord {
	return model.EventRecord{
		SourceID: source,
		UID:      uid,
		Summary:  summary,
		Start:    start,
		End:      start.Add(time.Hour),
	}
}

func TestRunMergesSources(t *testing.T) {
	t.Parallel()

	shared := day0.Add(10 * time.Hour)
	daily := record("a", "daily", "standup", day0.Add(9*time.Hour))
	daily.Rule = &model.Rule{Raw: "FREQ=DAILY;COUNT=3", Options: &rrule.ROption{Freq: rrule.DAILY, Count: 3}}

	sources := []SourceSpec{
		{ID: "a", Priority: 1, Provider: &fakeProvider{batch: Batch{
			Records: []model.EventRecord{record("a", "SHARED", "sync", shared), daily},
		}}},
		{ID: "b", Priority: 2, Provider: &fakeProvider{batch: Batch{
			Records:  []model.EventRecord{record("b", "SHARED", "sync", shared)},
			Unparsed: []string{"GEO"},
		}}},
	}

	res, err := NewRunner(Options{Dedup: merge.DefaultPolicy()}).Run(context.Background(), sources, week)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" {
		t.Fatal("missing run id")
	}
	if res.Index.Len() != 4 {
		t.Fatalf("got %d occurrences, want 4", res.Index.Len())
	}
	for _, o := range res.Index.All() {
		if o.UID == "SHARED" && o.SourceID != "b" {
			t.Fatalf("shared event taken from %s, want b", o.SourceID)
		}
	}
	if res.Stats.Duplicates != 1 {
		t.Fatalf("stats %+v", res.Stats)
	}
	if len(res.Sources) != 2 || !res.Sources[0].OK || res.Sources[1].Unparsed[0] != "GEO" {
		t.Fatalf("source statuses %+v", res.Sources)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", res.Warnings)
	}
}

func TestRunPartialFailure(t *testing.T) {
	t.Parallel()

	sources := []SourceSpec{
		{ID: "down", Provider: &fakeProvider{err: errors.New("connection refused")}},
		{ID: "up", Provider: &fakeProvider{batch: Batch{
			Records: []model.EventRecord{record("up", "e", "ok", day0.Add(time.Hour))},
			Skipped: []error{model.ErrInvalidRecord},
		}}},
	}

	res, err := NewRunner(Options{}).Run(context.Background(), sources, week)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Index.Len() != 1 {
		t.Fatalf("got %d occurrences, want 1", res.Index.Len())
	}

	var kinds []model.WarningKind
	for _, w := range res.Warnings {
		kinds = append(kinds, w.Kind)
	}
	if len(kinds) != 2 || kinds[0] != model.WarningSourceUnavailable || kinds[1] != model.WarningInvalidRecord {
		t.Fatalf("warnings %v", kinds)
	}
	if !errors.Is(res.Warnings[0].Err, model.ErrSourceUnavailable) {
		t.Fatalf("warning %v does not wrap ErrSourceUnavailable", res.Warnings[0].Err)
	}
	if res.Sources[0].OK || !res.Sources[1].OK {
		t.Fatalf("statuses %+v", res.Sources)
	}
}

type countingProvider struct {
	active *atomic.Int32
	peak   *atomic.Int32
	err    error
	batch  Batch
}

func (p countingProvider) Records(ctx context.Context, _ model.TimeRange) (Batch, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	}
	return p.batch, p.err
}

func TestRunBoundsWorkersAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	var sources []SourceSpec
	for i := range 6 {
		p := countingProvider{active: &active, peak: &peak}
		if i == 0 {
			// The first source fails; the rest must still complete.
			p.err = errors.New("boom")
		} else {
			p.batch = Batch{Records: []model.EventRecord{record("s", "e", "x", day0.Add(time.Duration(i)*time.Hour))}}
		}
		sources = append(sources, SourceSpec{ID: string(rune('a' + i)), Provider: p})
	}

	res, err := NewRunner(Options{Workers: 2}).Run(context.Background(), sources, week)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency %d, want at most 2", got)
	}
	if res.Sources[0].OK {
		t.Fatal("failing source reported ok")
	}
	for _, st := range res.Sources[1:] {
		if !st.OK || st.Occurrences != 1 {
			t.Fatalf("source %s: %+v", st.ID, st)
		}
	}
}

func TestRunFailures(t *testing.T) {
	t.Parallel()

	down := []SourceSpec{
		{ID: "a", Provider: &fakeProvider{err: errors.New("timeout")}},
		{ID: "b", Provider: &fakeProvider{err: errors.New("404")}},
	}

	tests := []struct {
		name    string
		sources []SourceSpec
		window  model.TimeRange
		wantErr error
	}{
		{name: "all sources down", sources: down, window: week, wantErr: model.ErrNoSources},
		{name: "no sources", sources: nil, window: week, wantErr: model.ErrNoSources},
		{name: "unbounded window", sources: down, window: model.TimeRange{Start: day0}, wantErr: model.ErrUnboundedWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewRunner(Options{}).Run(context.Background(), tt.sources, tt.window)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if res != nil {
				t.Fatalf("got partial result %+v", res)
			}
		})
	}
}

func TestRunUnboundedWindowLoadsNothing(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	_, err := NewRunner(Options{}).Run(context.Background(), []SourceSpec{{ID: "a", Provider: p}}, model.TimeRange{})
	if !errors.Is(err, model.ErrUnboundedWindow) {
		t.Fatalf("got %v", err)
	}
	if p.calls.Load() != 0 {
		t.Fatal("provider called for an unbounded window")
	}
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(Options{}).Run(ctx, []SourceSpec{{ID: "a", Provider: &fakeProvider{}}}, week)
	if !errors.Is(err, model.ErrNoSources) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want ErrNoSources wrapping context.Canceled", err)
	}
}

func TestServiceKeepsLastGoodResult(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{batch: Batch{Records: []model.EventRecord{record("a", "e", "x", day0.Add(time.Hour))}}}
	svc := NewService(NewRunner(Options{}), []SourceSpec{{ID: "a", Provider: p}},
		func(time.Time) model.TimeRange { return week }, time.Second)

	if svc.Current() != nil {
		t.Fatal("result before first refresh")
	}
	first, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if svc.Current() != first || svc.LastError() != nil {
		t.Fatal("first result not published")
	}

	p.err = errors.New("down")
	if _, err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if svc.Current() != first {
		t.Fatal("failed refresh replaced the published result")
	}
	if svc.LastError() == nil {
		t.Fatal("LastError not recorded")
	}
}

func TestSourcesFromConfigWithFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "home.ics")
	body := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//statical//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:file-1\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240202T100000\r\nDTEND:20240202T110000\r\nSUMMARY:Dentist\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Timezone = "Europe/Berlin"
	cfg.Sources = []config.SourceConfig{
		{ID: "home", Path: path, Priority: 1},
		{ID: "dav", Kind: config.KindCalDAV, URL: "https://dav.example.com/"},
	}
	cfg.Normalize()

	specs, err := SourcesFromConfig(cfg, ics.NewFetcher(filepath.Join(dir, "cache"), time.Second))
	if err != nil {
		t.Fatalf("SourcesFromConfig: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs", len(specs))
	}
	if _, ok := specs[1].Provider.(*CalDAVProvider); !ok {
		t.Fatalf("dav provider is %T", specs[1].Provider)
	}

	res, err := NewRunner(OptionsFromConfig(cfg)).Run(context.Background(), specs[:1], week)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	all := res.Index.All()
	if len(all) != 1 || all[0].Summary != "Dentist" {
		t.Fatalf("occurrences %+v", all)
	}
	berlin, _ := time.LoadLocation("Europe/Berlin")
	if !all[0].Start.Equal(time.Date(2024, 2, 2, 10, 0, 0, 0, berlin)) {
		t.Fatalf("floating time resolved to %s, want Berlin wall clock", all[0].Start)
	}
}
