package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"statical/internal/aggregate"
	"statical/internal/config"
	"statical/internal/index"
	"statical/internal/model"
)

type fakeBackend struct {
	res        *aggregate.Result
	refreshErr error
	refreshes  int
}

func (b *fakeBackend) Current() *aggregate.Result { return b.res }

func (b *fakeBackend) Refresh(context.Context) (*aggregate.Result, error) {
	b.refreshes++
	if b.refreshErr != nil {
		return nil, b.refreshErr
	}
	return b.res, nil
}

func testResult() *aggregate.Result {
	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	occs := []model.Occurrence{
		{SourceID: "a", UID: "standup", Summary: "Standup", Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 15*time.Minute)},
		{SourceID: "a", UID: "lunch", Summary: "Lunch", Start: day.Add(12 * time.Hour), End: day.Add(13 * time.Hour)},
		{SourceID: "b", UID: "trip", Summary: "Trip", AllDay: true, Start: day.AddDate(0, 0, 5), End: day.AddDate(0, 0, 7)},
	}
	rid := day.Add(9 * time.Hour)
	return &aggregate.Result{
		RunID:       "run-1",
		GeneratedAt: day,
		Window:      model.NewTimeRange(day, day.AddDate(0, 0, 14)),
		Index:       index.Build(occs, index.Options{DisplayLocation: time.UTC}),
		Warnings: []model.Warning{{
			Kind:         model.WarningOrphanOverride,
			SourceID:     "a",
			UID:          "standup",
			RecurrenceID: &rid,
			Err:          errors.New("no base instance"),
		}},
		Sources: []aggregate.SourceStatus{{ID: "a", OK: true, Records: 2, Occurrences: 2}},
	}
}

func newTestServer(backend Backend, auth *config.BasicAuthConfig) http.Handler {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth
	return NewServer(cfg, backend).Handler()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakeBackend{}, nil), http.MethodGet, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestOccurrences(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeBackend{res: testResult()}, nil)

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantUIDs []string
	}{
		{name: "whole window", target: "/api/occurrences", wantCode: http.StatusOK, wantUIDs: []string{"standup", "lunch", "trip"}},
		{name: "one day", target: "/api/occurrences?from=2024-02-01&to=2024-02-02", wantCode: http.StatusOK, wantUIDs: []string{"standup", "lunch"}},
		{name: "rfc3339", target: "/api/occurrences?from=2024-02-01T11:00:00Z&to=2024-02-01T12:30:00Z", wantCode: http.StatusOK, wantUIDs: []string{"lunch"}},
		{name: "bad bound", target: "/api/occurrences?from=tomorrow", wantCode: http.StatusBadRequest},
		{name: "inverted", target: "/api/occurrences?from=2024-02-03&to=2024-02-01", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target)
			if rec.Code != tt.wantCode {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp occurrencesResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp.Occurrences) != len(tt.wantUIDs) {
				t.Fatalf("got %d occurrences, want %d", len(resp.Occurrences), len(tt.wantUIDs))
			}
			for i, uid := range tt.wantUIDs {
				if resp.Occurrences[i].UID != uid {
					t.Fatalf("occurrence %d is %s, want %s", i, resp.Occurrences[i].UID, uid)
				}
			}
		})
	}
}

func TestDayWeeksMonths(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeBackend{res: testResult()}, nil)

	rec := do(t, h, http.MethodGet, "/api/days/2024-02-07")
	if rec.Code != http.StatusOK {
		t.Fatalf("day: %d", rec.Code)
	}
	var day struct {
		Date        string          `json:"date"`
		Weekday     string          `json:"weekday"`
		Occurrences []occurrenceDTO `json:"occurrences"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &day); err != nil {
		t.Fatalf("decode day: %v", err)
	}
	if day.Date != "2024-02-07" || day.Weekday != "Wednesday" || len(day.Occurrences) != 1 || day.Occurrences[0].UID != "trip" {
		t.Fatalf("day %+v", day)
	}

	if rec := do(t, h, http.MethodGet, "/api/days/not-a-date"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/weeks")
	var weeks []struct {
		Start string `json:"start"`
		Days  []any  `json:"days"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &weeks); err != nil {
		t.Fatalf("decode weeks: %v", err)
	}
	// Monday weeks: 2024-01-29 (holds Feb 1) and 2024-02-05 (holds the trip).
	if len(weeks) != 2 || weeks[0].Start != "2024-01-29" || len(weeks[1].Days) != 7 {
		t.Fatalf("weeks %+v", weeks)
	}

	rec = do(t, h, http.MethodGet, "/api/months")
	var months []monthDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &months); err != nil {
		t.Fatalf("decode months: %v", err)
	}
	if len(months) != 1 || months[0].Month != "February" || len(months[0].Days) != 3 {
		t.Fatalf("months %+v", months)
	}
}

func TestWarningsAndView(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeBackend{res: testResult()}, nil)

	rec := do(t, h, http.MethodGet, "/api/warnings")
	var warnings []warningDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &warnings); err != nil {
		t.Fatalf("decode warnings: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Kind != model.WarningOrphanOverride || warnings[0].Message != "no base instance" {
		t.Fatalf("warnings %+v", warnings)
	}

	rec = do(t, h, http.MethodGet, "/api/view")
	var view View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.RunID != "run-1" || len(view.Days) != 3 || len(view.Sources) != 1 {
		t.Fatalf("view %+v", view)
	}
}

func TestNoSnapshotYet(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(&fakeBackend{}, nil), http.MethodGet, "/api/occurrences")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{res: testResult()}
	h := newTestServer(backend, nil)

	if rec := do(t, h, http.MethodGet, "/api/refresh"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET refresh: %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/refresh")
	if rec.Code != http.StatusOK || backend.refreshes != 1 {
		t.Fatalf("refresh: %d, calls %d", rec.Code, backend.refreshes)
	}
	var resp refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "run-1" || resp.Occurrences != 3 {
		t.Fatalf("refresh response %+v", resp)
	}

	backend.refreshErr = model.ErrNoSources
	if rec := do(t, h, http.MethodPost, "/api/refresh"); rec.Code != http.StatusBadGateway {
		t.Fatalf("failed refresh: %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeBackend{res: testResult()}, &config.BasicAuthConfig{Username: "admin", Password: "s3cret"})

	if rec := do(t, h, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health behind auth: %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/api/warnings")
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Header().Get("WWW-Authenticate"), "Basic") {
		t.Fatalf("anonymous: %d %q", rec.Code, rec.Header().Get("WWW-Authenticate"))
	}

	tests := []struct {
		name string
		user string
		pass string
		want int
	}{
		{name: "valid", user: "admin", pass: "s3cret", want: http.StatusOK},
		{name: "wrong password", user: "admin", pass: "nope", want: http.StatusUnauthorized},
		{name: "wrong user", user: "root", pass: "s3cret", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/warnings", nil)
			req.SetBasicAuth(tt.user, tt.pass)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeBackend{res: testResult()}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/warnings", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}
