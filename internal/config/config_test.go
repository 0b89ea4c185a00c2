package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimal = `
site_url: "https://www.fitocracy.example"
session_cookie: "abc123"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
site_url: "https://www.fitocracy.example"
session_cookie: "abc123"
poll_interval: 15m
request_interval: 250ms
concurrency: 8
unresolved_grace: 48h
db_path: /var/lib/fitsync/state.db
groups_file: /etc/fitsync/groups.yaml
dry_run: true
milestone_every: 50
top_percent: 10
users:
  - {id: 42, username: alice}
  - {id: 43, username: bob}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SiteURL != "https://www.fitocracy.example" {
		t.Errorf("SiteURL = %q, want %q", cfg.SiteURL, "https://www.fitocracy.example")
	}
	if cfg.SessionCookie != "abc123" {
		t.Errorf("SessionCookie = %q, want %q", cfg.SessionCookie, "abc123")
	}
	if cfg.PollInterval != 15*time.Minute {
		t.Errorf("PollInterval = %v, want 15m", cfg.PollInterval)
	}
	if cfg.RequestInterval != 250*time.Millisecond {
		t.Errorf("RequestInterval = %v, want 250ms", cfg.RequestInterval)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.UnresolvedGrace != 48*time.Hour {
		t.Errorf("UnresolvedGrace = %v, want 48h", cfg.UnresolvedGrace)
	}
	if !cfg.DryRun {
		t.Error("DryRun = false, want true")
	}
	if cfg.MilestoneEvery != 50 || cfg.TopPercent != 10 {
		t.Errorf("MilestoneEvery, TopPercent = %d, %d, want 50, 10", cfg.MilestoneEvery, cfg.TopPercent)
	}
	if len(cfg.Users) != 2 || cfg.Users[1].Username != "bob" {
		t.Errorf("Users = %+v, want alice and bob", cfg.Users)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 10*time.Minute {
		t.Errorf("PollInterval = %v, want default 10m", cfg.PollInterval)
	}
	if cfg.RequestInterval != time.Second {
		t.Errorf("RequestInterval = %v, want default 1s", cfg.RequestInterval)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want default 4", cfg.Concurrency)
	}
	if cfg.UnresolvedGrace != 7*24*time.Hour {
		t.Errorf("UnresolvedGrace = %v, want default 168h", cfg.UnresolvedGrace)
	}
	if cfg.MilestoneEvery != 100 || cfg.TopPercent != 5 {
		t.Errorf("MilestoneEvery, TopPercent = %d, %d, want 100, 5", cfg.MilestoneEvery, cfg.TopPercent)
	}
	if cfg.Cache != nil || cfg.Telemetry != nil {
		t.Error("optional blocks should stay nil when omitted")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing site_url", `session_cookie: "abc"`},
		{"invalid site_url", `
site_url: "not-a-url"
session_cookie: "abc"`},
		{"non-http site_url", `
site_url: "ftp://example.com"
session_cookie: "abc"`},
		{"missing session_cookie", `site_url: "https://www.fitocracy.example"`},
		{"blank session_cookie", `
site_url: "https://www.fitocracy.example"
session_cookie: "  "`},
		{"poll_interval too short", minimal + "poll_interval: 30s\n"},
		{"poll_interval too long", minimal + "poll_interval: 25h\n"},
		{"request_interval too short", minimal + "request_interval: 10ms\n"},
		{"concurrency too high", minimal + "concurrency: 64\n"},
		{"concurrency negative", minimal + "concurrency: -1\n"},
		{"negative grace", minimal + "unresolved_grace: -1h\n"},
		{"top_percent too high", minimal + "top_percent: 101\n"},
		{"milestone_every negative", minimal + "milestone_every: -5\n"},
		{"user without id", minimal + "users:\n  - {username: ghost}\n"},
		{"duplicate user", minimal + "users:\n  - {id: 1, username: a}\n  - {id: 1, username: b}\n"},
		{"unknown key", minimal + "unknown_field: oops\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(filepath.Dir(path)) != "fitsync" {
		t.Errorf("DefaultPath = %q, want it under a fitsync directory", path)
	}
}

func TestLoad_CacheDefaultTTL(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal+"cache:\n  dir: /tmp/fitsync-cache\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache == nil {
		t.Fatal("expected Cache to be non-nil")
	}
	if cfg.Cache.Dir != "/tmp/fitsync-cache" {
		t.Errorf("Cache.Dir = %q, want /tmp/fitsync-cache", cfg.Cache.Dir)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want default 1h", cfg.Cache.TTL)
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, minimal+`
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "my-fitsync"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "my-fitsync" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "my-fitsync")
	}
}

func TestLoad_TelemetryMissingEndpoint(t *testing.T) {
	_, err := Load(writeConfig(t, minimal+"telemetry:\n  insecure: true\n"))
	if err == nil {
		t.Fatal("expected error for telemetry missing otlp_endpoint, got nil")
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	path := writeConfig(t, minimal+`
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
}
