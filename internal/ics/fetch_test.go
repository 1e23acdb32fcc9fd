package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const smallCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func TestFetcherHonorsETag(t *testing.T) {
	t.Parallel()

	var (
		hits    atomic.Int32
		failing atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(smallCalendar))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), 5*time.Second)
	src := Source{ID: "remote", URL: srv.URL + "/cal.ics?token=secret"}
	ctx := context.Background()

	first, err := f.Load(ctx, src)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.FromCache || string(first.Body) != smallCalendar {
		t.Fatalf("first load: from_cache=%v body=%q", first.FromCache, first.Body)
	}

	second, err := f.Load(ctx, src)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !second.FromCache || string(second.Body) != smallCalendar {
		t.Fatalf("304 response: from_cache=%v body=%q", second.FromCache, second.Body)
	}

	failing.Store(true)
	third, err := f.Load(ctx, src)
	if err != nil {
		t.Fatalf("load during outage: %v", err)
	}
	if !third.FromCache || string(third.Body) != smallCalendar {
		t.Fatalf("outage fallback: from_cache=%v body=%q", third.FromCache, third.Body)
	}

	if got := hits.Load(); got != 3 {
		t.Fatalf("server hit %d times, want 3", got)
	}
}

func TestFetcherFailsWithoutCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), 5*time.Second)
	if _, err := f.Load(context.Background(), Source{ID: "x", URL: srv.URL}); err == nil {
		t.Fatal("expected error without cached body")
	}
}

func TestFetcherReadsFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local.ics")
	if err := os.WriteFile(path, []byte(smallCalendar), 0o600); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(t.TempDir(), time.Second)
	res, err := f.Load(context.Background(), Source{ID: "file", Path: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(res.Body) != smallCalendar {
		t.Fatalf("body %q", res.Body)
	}

	if _, err := f.Load(context.Background(), Source{ID: "missing", Path: path + ".nope"}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := f.Load(context.Background(), Source{ID: "empty"}); err == nil {
		t.Fatal("expected error for source without url or path")
	}
}

func TestURLHelpers(t *testing.T) {
	t.Parallel()

	if got := normalizeURL("webcal://example.com/cal.ics"); got != "https://example.com/cal.ics" {
		t.Fatalf("normalizeURL = %s", got)
	}
	if got := normalizeURL("http://example.com/a.ics"); got != "http://example.com/a.ics" {
		t.Fatalf("normalizeURL changed http url: %s", got)
	}
	if got := redactURL("https://example.com/private/abc123/basic.ics?key=x"); got != "https://example.com/...(redacted)" {
		t.Fatalf("redactURL = %s", got)
	}
}
