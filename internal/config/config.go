// Package config loads server settings. Values come from defaults, then an
// optional YAML file, then ANASTROPHEX_* environment variables, then flags
// bound by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HendryAvila/anastrophex/internal/alerts"
	"github.com/HendryAvila/anastrophex/internal/engine"
	"github.com/HendryAvila/anastrophex/internal/feedback"
	"github.com/HendryAvila/anastrophex/internal/history"
)

// EnvPrefix prefixes every environment override, e.g. ANASTROPHEX_DATA_DIR
// or ANASTROPHEX_ALERTS_EFFICACY_FLOOR.
const EnvPrefix = "ANASTROPHEX"

// Keys understood by Load.
const (
	KeyDataDir             = "data_dir"
	KeyPatternsFile        = "patterns_file"
	KeyDirectivesFile      = "directives_file"
	KeyHistoryMaxEvents    = "history.max_events"
	KeyHistoryMaxAge       = "history.max_age"
	KeyInterventionTimeout = "alerts.intervention_timeout"
	KeyEfficacyFloor       = "alerts.efficacy_floor"
	KeyMinOutcomes         = "alerts.min_outcomes"
	KeyHalfLife            = "feedback.half_life"
	KeyWriteTimeout        = "persistence.write_timeout"
	KeyMaxRetry            = "persistence.max_retry"
	KeyRetryInterval       = "persistence.retry_interval"
	KeySweepInterval       = "sweep_interval"
	KeyMetricsAddr         = "metrics_addr"
	KeyLogLevel            = "log_level"
)

// Config is the resolved server configuration.
type Config struct {
	DataDir        string
	PatternsFile   string
	DirectivesFile string

	History       history.Config
	Alerts        alerts.Config
	HalfLife      time.Duration
	Persistence   feedback.WriteBehindConfig
	SweepInterval time.Duration

	MetricsAddr string
	LogLevel    string

	// File is the config file that was read, empty when none was.
	File string
}

// DefaultDataDir returns ~/.anastrophex, or a relative directory when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".anastrophex"
	}
	return filepath.Join(home, ".anastrophex")
}

// New returns a viper instance with every default set and environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()

	ec := engine.DefaultConfig()
	wb := feedback.DefaultWriteBehindConfig()

	v.SetDefault(KeyDataDir, DefaultDataDir())
	v.SetDefault(KeyPatternsFile, "")
	v.SetDefault(KeyDirectivesFile, "")
	v.SetDefault(KeyHistoryMaxEvents, ec.History.MaxEvents)
	v.SetDefault(KeyHistoryMaxAge, ec.History.MaxAge)
	v.SetDefault(KeyInterventionTimeout, ec.Alerts.InterventionTimeout)
	v.SetDefault(KeyEfficacyFloor, ec.Alerts.EfficacyFloor)
	v.SetDefault(KeyMinOutcomes, ec.Alerts.MinOutcomes)
	v.SetDefault(KeyHalfLife, ec.HalfLife)
	v.SetDefault(KeyWriteTimeout, wb.AttemptTimeout)
	v.SetDefault(KeyMaxRetry, wb.MaxTries)
	v.SetDefault(KeyRetryInterval, wb.RetryInterval)
	v.SetDefault(KeySweepInterval, ec.SweepInterval)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file into v and resolves the configuration. With an empty
// file, config.yaml in the default data directory is read when it exists.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(DefaultDataDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:        expandHome(v.GetString(KeyDataDir)),
		PatternsFile:   expandHome(v.GetString(KeyPatternsFile)),
		DirectivesFile: expandHome(v.GetString(KeyDirectivesFile)),
		History: history.Config{
			MaxEvents: v.GetInt(KeyHistoryMaxEvents),
			MaxAge:    v.GetDuration(KeyHistoryMaxAge),
		},
		Alerts: alerts.Config{
			InterventionTimeout: v.GetDuration(KeyInterventionTimeout),
			EfficacyFloor:       v.GetFloat64(KeyEfficacyFloor),
			MinOutcomes:         v.GetInt(KeyMinOutcomes),
		},
		HalfLife: v.GetDuration(KeyHalfLife),
		Persistence: feedback.WriteBehindConfig{
			AttemptTimeout: v.GetDuration(KeyWriteTimeout),
			MaxTries:       v.GetUint(KeyMaxRetry),
			RetryInterval:  v.GetDuration(KeyRetryInterval),
		},
		SweepInterval: v.GetDuration(KeySweepInterval),
		MetricsAddr:   v.GetString(KeyMetricsAddr),
		LogLevel:      strings.ToLower(v.GetString(KeyLogLevel)),
		File:          v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyDataDir))
	}
	if c.History.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", KeyHistoryMaxEvents, c.History.MaxEvents))
	}
	if c.History.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %s", KeyHistoryMaxAge, c.History.MaxAge))
	}
	if c.Alerts.InterventionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyInterventionTimeout, c.Alerts.InterventionTimeout))
	}
	if c.Alerts.EfficacyFloor < 0 || c.Alerts.EfficacyFloor > 1 {
		errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", KeyEfficacyFloor, c.Alerts.EfficacyFloor))
	}
	if c.Alerts.MinOutcomes < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative, got %d", KeyMinOutcomes, c.Alerts.MinOutcomes))
	}
	if c.HalfLife <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyHalfLife, c.HalfLife))
	}
	if c.Persistence.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyWriteTimeout, c.Persistence.AttemptTimeout))
	}
	if c.Persistence.MaxTries == 0 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", KeyMaxRetry))
	}
	if c.Persistence.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeyRetryInterval, c.Persistence.RetryInterval))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", KeySweepInterval, c.SweepInterval))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%s must be one of debug, info, warn, error, got %q", KeyLogLevel, c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Engine returns the engine thresholds.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		History:       c.History,
		Alerts:        c.Alerts,
		HalfLife:      c.HalfLife,
		SweepInterval: c.SweepInterval,
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
