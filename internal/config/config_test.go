package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// --- Defaults ---

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.History.MaxEvents != 512 {
		t.Errorf("MaxEvents = %d, want 512", cfg.History.MaxEvents)
	}
	if cfg.Alerts.InterventionTimeout != 30*time.Minute {
		t.Errorf("InterventionTimeout = %s, want 30m", cfg.Alerts.InterventionTimeout)
	}
	if cfg.Alerts.EfficacyFloor != 0.2 {
		t.Errorf("EfficacyFloor = %v, want 0.2", cfg.Alerts.EfficacyFloor)
	}
	if cfg.Persistence.MaxTries != 5 {
		t.Errorf("MaxTries = %d, want 5", cfg.Persistence.MaxTries)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if !strings.HasSuffix(cfg.DataDir, ".anastrophex") {
		t.Errorf("DataDir = %s, want ~/.anastrophex", cfg.DataDir)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want empty when no config exists", cfg.File)
	}
}

// --- File and environment layering ---

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/anastrophex-test
patterns_file: ~/patterns.yaml
history:
  max_events: 64
  max_age: 15m
alerts:
  intervention_timeout: 5m
  efficacy_floor: 0.35
  min_outcomes: 5
feedback:
  half_life: 72h
persistence:
  write_timeout: 500ms
  max_retry: 2
sweep_interval: 5s
log_level: DEBUG
`)
	t.Setenv("HOME", "/home/tester")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"data_dir", cfg.DataDir, "/tmp/anastrophex-test"},
		{"patterns_file", cfg.PatternsFile, "/home/tester/patterns.yaml"},
		{"max_events", cfg.History.MaxEvents, 64},
		{"max_age", cfg.History.MaxAge, 15 * time.Minute},
		{"intervention_timeout", cfg.Alerts.InterventionTimeout, 5 * time.Minute},
		{"efficacy_floor", cfg.Alerts.EfficacyFloor, 0.35},
		{"min_outcomes", cfg.Alerts.MinOutcomes, 5},
		{"half_life", cfg.HalfLife, 72 * time.Hour},
		{"write_timeout", cfg.Persistence.AttemptTimeout, 500 * time.Millisecond},
		{"max_retry", cfg.Persistence.MaxTries, uint(2)},
		{"sweep_interval", cfg.SweepInterval, 5 * time.Second},
		{"log_level", cfg.LogLevel, "debug"},
		{"file", cfg.File, path},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "alerts:\n  efficacy_floor: 0.35\n")
	t.Setenv("ANASTROPHEX_ALERTS_EFFICACY_FLOOR", "0.6")
	t.Setenv("ANASTROPHEX_METRICS_ADDR", "127.0.0.1:9464")

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerts.EfficacyFloor != 0.6 {
		t.Errorf("EfficacyFloor = %v, want 0.6 from env", cfg.Alerts.EfficacyFloor)
	}
	if cfg.MetricsAddr != "127.0.0.1:9464" {
		t.Errorf("MetricsAddr = %q, want env value", cfg.MetricsAddr)
	}
}

func TestLoad_SetOverridesEverything(t *testing.T) {
	t.Setenv("ANASTROPHEX_LOG_LEVEL", "warn")
	v := New()
	v.Set(KeyLogLevel, "error")

	cfg, err := Load(v, writeConfig(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %s, want error", cfg.LogLevel)
	}
}

// --- Errors ---

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(New(), writeConfig(t, "alerts: [unclosed\n"))
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	valid, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{"zero events", func(c *Config) { c.History.MaxEvents = 0 }, KeyHistoryMaxEvents},
		{"negative age", func(c *Config) { c.History.MaxAge = -time.Second }, KeyHistoryMaxAge},
		{"floor above one", func(c *Config) { c.Alerts.EfficacyFloor = 1.5 }, KeyEfficacyFloor},
		{"floor below zero", func(c *Config) { c.Alerts.EfficacyFloor = -0.1 }, KeyEfficacyFloor},
		{"zero timeout", func(c *Config) { c.Alerts.InterventionTimeout = 0 }, KeyInterventionTimeout},
		{"zero half life", func(c *Config) { c.HalfLife = 0 }, KeyHalfLife},
		{"zero retries", func(c *Config) { c.Persistence.MaxTries = 0 }, KeyMaxRetry},
		{"zero sweep", func(c *Config) { c.SweepInterval = 0 }, KeySweepInterval},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, KeyLogLevel},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, KeyDataDir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error %q does not name %s", err, tt.wantKey)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Config{DataDir: "x", LogLevel: "info"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{KeyHistoryMaxEvents, KeyHalfLife, KeySweepInterval} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not mention %s: %v", key, err)
		}
	}
}

func TestEngineConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ec := cfg.Engine()
	if ec.History != cfg.History || ec.Alerts != cfg.Alerts {
		t.Error("engine config does not carry the loaded thresholds")
	}
	if ec.HalfLife != cfg.HalfLife || ec.SweepInterval != cfg.SweepInterval {
		t.Error("engine config does not carry half life and sweep interval")
	}
}
