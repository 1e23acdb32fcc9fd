package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	KindURL    = "url"
	KindFile   = "file"
	KindCalDAV = "caldav"
)

// SourceConfig describes a single calendar source.
type SourceConfig struct {
	// ID is an internal identifier used for dedup tie-breaks and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Kind is one of "url", "file" or "caldav". Derived from URL/Path when empty.
	Kind string `yaml:"kind" json:"kind"`
	// URL is the ICS subscription endpoint, or the CalDAV server root.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Path is a local .ics file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"-"`
	// Calendar is the CalDAV collection path. Empty means every calendar
	// of the authenticated principal.
	Calendar string `yaml:"calendar,omitempty" json:"calendar,omitempty"`

	// Priority decides which copy survives when the same event appears in
	// several sources. Higher wins.
	Priority int `yaml:"priority" json:"priority"`
	// Timezone is the zone used for floating times of this source.
	// Defaults to the top-level timezone.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// DedupConfig selects the identity rules used when merging sources.
type DedupConfig struct {
	ByUID     bool `yaml:"by_uid" json:"by_uid"`
	ByContent bool `yaml:"by_content" json:"by_content"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display zone (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday starts a week in grouped views.
	// Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BackfillDays and HorizonDays define the window relative to today:
	// [today - BackfillDays, today + HorizonDays).
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`

	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// Workers bounds how many sources load concurrently.
	Workers int `yaml:"workers" json:"workers"`

	// Timeout bounds a whole aggregation run, e.g. "60s".
	Timeout string `yaml:"timeout" json:"timeout"`

	// CacheDir stores HTTP cache bodies and metadata.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Dedup DedupConfig `yaml:"dedup" json:"dedup"`

	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen   = "127.0.0.1:8080"
	defaultTimezone = "UTC"
	defaultRefresh  = "*/15 * * * *"
	defaultTimeout  = "60s"
	defaultCacheDir = "./var/ics-cache"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		WeekStart:              "monday",
		RefreshCron:            defaultRefresh,
		BackfillDays:           7,
		HorizonDays:            30,
		MaxOccurrencesPerEvent: 5000,
		Workers:                4,
		Timeout:                defaultTimeout,
		CacheDir:               defaultCacheDir,
		Dedup:                  DedupConfig{ByUID: true, ByContent: true},
		Sources:                []SourceConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "sunday":
		c.WeekStart = "sunday"
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 30
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = 5000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout == "" {
		c.Timeout = defaultTimeout
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Kind == "" {
			switch {
			case s.Path != "" && s.URL == "":
				s.Kind = KindFile
			default:
				s.Kind = KindURL
			}
		}
		s.Kind = strings.ToLower(s.Kind)
		if s.ID == "" {
			s.ID = fmt.Sprintf("source-%d", i+1)
		}
	}
}

// Validate reports configuration errors that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("timeout %q: %w", c.Timeout, err))
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if _, dup := seen[s.ID]; dup {
			errs = append(errs, fmt.Errorf("source %s: duplicate id", s.ID))
		}
		seen[s.ID] = struct{}{}

		switch s.Kind {
		case KindURL, KindCalDAV:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("source %s: %s source needs url", s.ID, s.Kind))
			}
		case KindFile:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("source %s: file source needs path", s.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("source %s: unknown kind %q", s.ID, s.Kind))
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("source %s: timezone %q: %w", s.ID, s.Timezone, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Location returns the display zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SourceLocation returns the floating-time zone of s.
func (c *Config) SourceLocation(s SourceConfig) *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	return c.Location()
}

// WeekStartDay maps WeekStart onto a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// RunTimeout returns the parsed Timeout, or 60s when it does not parse.
func (c *Config) RunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// Window returns the aggregation window around now:
// [midnight(now) - BackfillDays, midnight(now) + HorizonDays) in the display zone.
func (c *Config) Window(now time.Time) (start, end time.Time) {
	loc := c.Location()
	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -c.BackfillDays), today.AddDate(0, 0, c.HorizonDays)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	// Sources from the file replace the default empty list.
	cfg.Sources = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".statical-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
