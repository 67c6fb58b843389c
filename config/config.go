package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configurable server parameters.
type Config struct {
	HTTPPort int `json:"http_port" env:"HTTP_PORT"`

	// DatabaseURL selects the Postgres backend; when empty the SQLite file at SQLitePath is used.
	DatabaseURL        string `json:"database_url" env:"DATABASE_URL"`
	SQLitePath         string `json:"sqlite_path" env:"SQLITE_PATH"`
	PGMaxConns         int32  `json:"pg_max_conns" env:"PG_MAX_CONNS"`
	PGMinConns         int32  `json:"pg_min_conns" env:"PG_MIN_CONNS"`
	PGMaxConnLifetimeS int    `json:"pg_max_conn_lifetime_sec" env:"PG_MAX_CONN_LIFETIME_SEC"`

	DefaultGlobalPageSize int `json:"default_global_page_size" env:"DEFAULT_GLOBAL_PAGE_SIZE"`
	DefaultUserPageSize   int `json:"default_user_page_size" env:"DEFAULT_USER_PAGE_SIZE"`

	// AutoUnlockOnRecord runs an unlock check for both players after each recorded match.
	AutoUnlockOnRecord bool `json:"auto_unlock_on_record" env:"AUTO_UNLOCK_ON_RECORD"`
	// AchievementsFile is an optional JSON catalog seeded next to the defaults.
	AchievementsFile string `json:"achievements_file" env:"ACHIEVEMENTS_FILE"`

	RateLimitRPS       float64  `json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	StatsRefreshIntervalSec int `json:"stats_refresh_interval_sec" env:"STATS_REFRESH_INTERVAL_SEC"`
	ShutdownTimeoutSec      int `json:"shutdown_timeout_sec" env:"SHUTDOWN_TIMEOUT_SEC"`

	LogLevel     string `json:"log_level" env:"LOG_LEVEL"`
	OTelEndpoint string `json:"otel_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `json:"service_name" env:"SERVICE_NAME"`
}

// Defaults returns a Config with every default value.
func Defaults() *Config {
	return &Config{
		HTTPPort:                8080,
		SQLitePath:              "match-stats.db",
		PGMaxConns:              10,
		PGMinConns:              1,
		PGMaxConnLifetimeS:      3600,
		DefaultGlobalPageSize:   20,
		DefaultUserPageSize:     10,
		AutoUnlockOnRecord:      true,
		RateLimitRPS:            20,
		RateLimitBurst:          40,
		CORSAllowedOrigins:      []string{"*"},
		StatsRefreshIntervalSec: 30,
		ShutdownTimeoutSec:      10,
		LogLevel:                "info",
		ServiceName:             "match-stats-server",
	}
}

// Load reads configuration from an optional config.json file,
// then applies environment variable overrides. Fields not set
// in either source retain their default values.
func Load() (*Config, error) {
	return LoadFrom("config.json")
}

// LoadFrom is Load with an explicit config file path. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			slog.Warn("failed to parse config file", "tag", "config", "path", path, "err", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to open config file", "tag", "config", "path", path, "err", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port out of range: %d", c.HTTPPort))
	}
	if c.DatabaseURL == "" && strings.TrimSpace(c.SQLitePath) == "" {
		errs = append(errs, errors.New("either database_url or sqlite_path is required"))
	}
	for name, v := range map[string]int{
		"default_global_page_size": c.DefaultGlobalPageSize,
		"default_user_page_size":   c.DefaultUserPageSize,
	} {
		if v <= 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s must be in 1..100, got %d", name, v))
		}
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit values must be non-negative"))
	}
	if c.StatsRefreshIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("stats_refresh_interval_sec must be non-negative, got %d", c.StatsRefreshIntervalSec))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", s)
	}
	return lvl, nil
}

// StatsRefreshInterval is StatsRefreshIntervalSec as a duration.
func (c *Config) StatsRefreshInterval() time.Duration {
	return time.Duration(c.StatsRefreshIntervalSec) * time.Second
}

// ShutdownTimeout is ShutdownTimeoutSec as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// PGMaxConnLifetime is PGMaxConnLifetimeS as a duration.
func (c *Config) PGMaxConnLifetime() time.Duration {
	return time.Duration(c.PGMaxConnLifetimeS) * time.Second
}
