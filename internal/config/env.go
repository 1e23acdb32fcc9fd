package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvListen   = "STATICAL_LISTEN"
	EnvTimezone = "STATICAL_TIMEZONE"
	EnvLogLevel = "STATICAL_LOG_LEVEL"
	EnvCacheDir = "STATICAL_CACHE_DIR"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays STATICAL_* variables onto c.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
}

// LogLevel returns the STATICAL_LOG_LEVEL value, if any.
func LogLevel() string {
	return os.Getenv(EnvLogLevel)
}
