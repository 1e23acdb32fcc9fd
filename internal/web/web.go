package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"statical/internal/aggregate"
	"statical/internal/config"
	appLog "statical/internal/log"
	"statical/internal/model"
)

// Backend provides the snapshot served by the API.
type Backend interface {
	// Current returns the latest aggregation result, or nil if none exists yet.
	Current() *aggregate.Result
	Refresh(ctx context.Context) (*aggregate.Result, error)
}

// Server provides the read-only HTTP API over the latest aggregation result.
type Server struct {
	cfg     *config.Config
	backend Backend
	router  *mux.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, backend Backend) *Server {
	s := &Server{
		cfg:     cfg,
		backend: backend,
		router:  mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server, with CORS and, when
// configured, Basic Auth applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="statical", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/view", s.handleView).Methods(http.MethodGet)
	api.HandleFunc("/occurrences", s.handleOccurrences).Methods(http.MethodGet)
	api.HandleFunc("/days/{date}", s.handleDay).Methods(http.MethodGet)
	api.HandleFunc("/weeks", s.handleWeeks).Methods(http.MethodGet)
	api.HandleFunc("/months", s.handleMonths).Methods(http.MethodGet)
	api.HandleFunc("/warnings", s.handleWarnings).Methods(http.MethodGet)
	api.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// snapshot returns the current result or writes 503.
func (s *Server) snapshot(w http.ResponseWriter) (*aggregate.Result, bool) {
	res := s.backend.Current()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no aggregation result yet")
		return nil, false
	}
	return res, true
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, BuildView(res))
}

type occurrencesResponse struct {
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
	Occurrences     []occurrenceDTO `json:"occurrences"`
}

// handleOccurrences returns occurrences overlapping [from, to).
//
// GET /api/occurrences?from=2024-01-01&to=2024-01-08
//   - from, to: a date in the display zone or an RFC 3339 timestamp.
//     Both default to the bounds of the aggregated window.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	res, ok := s.snapshot(w)
	if !ok {
		return
	}
	loc := res.Index.Location()

	q := r.URL.Query()
	from, err := parseBound(q.Get("from"), res.Window.Start, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseBound(q.Get("to"), res.Window.End, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	rng := model.NewTimeRange(from, to)
	if err := rng.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, occurrencesResponse{
		RangeStart:      from,
		RangeEnd:        to,
		DisplayTimeZone: loc.String(),
		Occurrences:     toOccurrences(res.Index.OccurrencesIn(rng), loc),
	})
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	res, ok := s.snapshot(w)
	if !ok {
		return
	}
	day, err := model.ParseDay(mux.Vars(r)["date"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	loc := res.Index.Location()
	writeJSON(w, http.StatusOK, dayDTO{
		Date:        day,
		Weekday:     day.Weekday().String(),
		Occurrences: toOccurrences(res.Index.OccurrencesOn(day), loc),
	})
}

func (s *Server) handleWeeks(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.snapshot(w)
	if !ok {
		return
	}
	loc := res.Index.Location()
	weeks := res.Index.Weeks(s.cfg.WeekStartDay())
	out := make([]weekDTO, 0, len(weeks))
	for _, wk := range weeks {
		out = append(out, weekDTO{Start: wk.Start, Days: toDays(wk.Days, loc)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMonths(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.snapshot(w)
	if !ok {
		return
	}
	loc := res.Index.Location()
	months := res.Index.Months()
	out := make([]monthDTO, 0, len(months))
	for _, m := range months {
		out = append(out, monthDTO{Year: m.Year, Month: m.Month.String(), Days: toDays(m.Days, loc)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWarnings(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toWarnings(res.Warnings))
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSources(res.Sources))
}

type refreshResponse struct {
	RunID       string `json:"run_id"`
	Occurrences int    `json:"occurrences"`
	Warnings    int    `json:"warnings"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Refresh(r.Context())
	if err != nil {
		appLog.Error("api refresh failed", err)
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrNoSources) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		RunID:       res.RunID,
		Occurrences: res.Index.Len(),
		Warnings:    len(res.Warnings),
	})
}

// parseBound accepts "2006-01-02" (midnight in loc) or RFC 3339.
func parseBound(v string, def time.Time, loc *time.Location) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	if d, err := model.ParseDay(v); err == nil {
		return d.Start(loc), nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
