// Package config loads and validates the fitsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// SiteURL is the base URL of the fitness site (e.g. "https://www.fitocracy.example").
	SiteURL string `yaml:"site_url"`

	// SessionCookie is the bot account's session cookie value.
	SessionCookie string `yaml:"session_cookie"`

	// PollInterval controls how often all users are synchronized.
	// Minimum 1m, maximum 24h. Defaults to 10m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RequestInterval is the minimum spacing between requests to the site.
	// Minimum 100ms. Defaults to 1s if unset.
	RequestInterval time.Duration `yaml:"request_interval"`

	// Concurrency bounds how many users are synchronized at once (1..32).
	// Defaults to 4.
	Concurrency int `yaml:"concurrency"`

	// UnresolvedGrace delays unresolved-workout tracking for newly followed
	// users so their whole history is not flagged. Defaults to 168h.
	UnresolvedGrace time.Duration `yaml:"unresolved_grace"`

	// DBPath is the SQLite state database. Defaults to
	// ~/.local/share/fitsync/state.db.
	DBPath string `yaml:"db_path"`

	// GroupsFile optionally points at the activity grouping rules.
	GroupsFile string `yaml:"groups_file"`

	// DryRun logs comments and props instead of posting them. Nothing about
	// them is recorded, so turning it off later publishes the same workouts.
	DryRun bool `yaml:"dry_run"`

	// MilestoneEvery awards a milestone every N workouts. Defaults to 100.
	MilestoneEvery int `yaml:"milestone_every"`

	// TopPercent is the points percentile that earns a badge. Defaults to 5.
	TopPercent int `yaml:"top_percent"`

	// Users replaces the follower lookup with a fixed list when non-empty.
	Users []UserConfig `yaml:"users,omitempty"`

	// Cache enables the on-disk response cache. Omit to disable.
	Cache *CacheConfig `yaml:"cache,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// UserConfig is one entry of the fixed user list.
type UserConfig struct {
	ID       int64  `yaml:"id"`
	Username string `yaml:"username"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Dir is where the cache lives. Empty keeps it in memory.
	Dir string `yaml:"dir"`

	// TTL bounds the age of a cached response. Defaults to 1h.
	TTL time.Duration `yaml:"ttl"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "fitsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/fitsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fitsync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.SiteURL == "" {
		return fmt.Errorf("site_url is required")
	}
	u, err := url.ParseRequestURI(c.SiteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("site_url %q must be a valid http or https URL", c.SiteURL)
	}

	if strings.TrimSpace(c.SessionCookie) == "" {
		return fmt.Errorf("session_cookie is required")
	}

	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Minute
	}
	if c.PollInterval < time.Minute {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}
	if c.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.RequestInterval == 0 {
		c.RequestInterval = time.Second
	}
	if c.RequestInterval < 100*time.Millisecond {
		return fmt.Errorf("request_interval %v is too short (minimum 100ms)", c.RequestInterval)
	}

	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.Concurrency < 1 || c.Concurrency > 32 {
		return fmt.Errorf("concurrency %d is out of range (1..32)", c.Concurrency)
	}

	if c.UnresolvedGrace == 0 {
		c.UnresolvedGrace = 7 * 24 * time.Hour
	}
	if c.UnresolvedGrace < 0 {
		return fmt.Errorf("unresolved_grace %v must not be negative", c.UnresolvedGrace)
	}

	if c.MilestoneEvery == 0 {
		c.MilestoneEvery = 100
	}
	if c.MilestoneEvery < 1 {
		return fmt.Errorf("milestone_every %d must be positive", c.MilestoneEvery)
	}
	if c.TopPercent == 0 {
		c.TopPercent = 5
	}
	if c.TopPercent < 1 || c.TopPercent > 100 {
		return fmt.Errorf("top_percent %d is out of range (1..100)", c.TopPercent)
	}

	seen := make(map[int64]bool, len(c.Users))
	for i, u := range c.Users {
		if u.ID <= 0 {
			return fmt.Errorf("users[%d] has no id", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("users[%d]: duplicate id %d", i, u.ID)
		}
		seen[u.ID] = true
	}

	if c.Cache != nil && c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
