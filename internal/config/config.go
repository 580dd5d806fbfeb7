// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// EnvPrefix is the prefix of every environment variable read by New.
// Example: FABLAB_CALENDAR_BACKEND_URL, FABLAB_CALENDAR_CACHE_TTL.
const EnvPrefix = "FABLAB_CALENDAR"

// Config holds the configuration for the calendar sync service.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8099"`
	DataDir  string `envconfig:"DATA_DIR" default:"/data"`

	// Backend serving the manager's formation list.
	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://localhost:8080/api"`
	BackendToken   string        `envconfig:"BACKEND_TOKEN" default:""`
	FormationsPath string        `envconfig:"FORMATIONS_PATH" default:"/formations/manager"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"30s"`

	// CacheTTL and RefreshInterval share one value unless overridden.
	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"60s"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"60s"`

	// StaticEventsFile optionally replaces the built-in static events (YAML).
	StaticEventsFile string `envconfig:"STATIC_EVENTS_FILE" default:""`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// New creates a Config from environment variables and validates it.
func New(logger zerolog.Logger) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("data_dir", cfg.DataDir).
		Str("backend_url", cfg.BackendURL).
		Str("formations_path", cfg.FormationsPath).
		Bool("backend_token_present", cfg.BackendToken != "").
		Dur("cache_ttl", cfg.CacheTTL).
		Dur("refresh_interval", cfg.RefreshInterval).
		Str("static_events_file", cfg.StaticEventsFile).
		Msg("Configuration loaded")

	return &cfg, nil
}

// Validate checks the values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid BACKEND_URL: %q", c.BackendURL)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.RefreshInterval < time.Second {
		return fmt.Errorf("REFRESH_INTERVAL must be at least 1s, got %s", c.RefreshInterval)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive, got %s", c.BackendTimeout)
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}
	return nil
}

// NewForTesting returns a valid config pointing at backendURL.
func NewForTesting(backendURL string) *Config {
	return &Config{
		HTTPAddr:        "127.0.0.1:0",
		DataDir:         "./testdata",
		BackendURL:      backendURL,
		FormationsPath:  "/formations/manager",
		BackendTimeout:  5 * time.Second,
		CacheTTL:        time.Minute,
		RefreshInterval: time.Minute,
		LogLevel:        "debug",
	}
}
