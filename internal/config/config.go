// Package config loads reconciler settings from defaults, an optional YAML
// file and RECON_ environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"revenue-reconciler/internal/engine"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RECON_"

// Config is the full application configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig holds the reconciliation options.
type EngineConfig struct {
	RatePrecision    int32  `yaml:"rate_precision"`
	NumericTolerance string `yaml:"numeric_tolerance"`
	Workers          int    `yaml:"workers"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	UploadDir   string `yaml:"upload_dir"`
}

// HistoryConfig configures the processed report store.
type HistoryConfig struct {
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			RatePrecision:    engine.DefaultRatePrecision,
			NumericTolerance: engine.DefaultNumericTolerance.String(),
			Workers:          engine.DefaultWorkers,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 100,
			UploadDir:   os.TempDir(),
		},
		History: HistoryConfig{
			Dir:           "processed_files",
			RetentionDays: 30,
			PruneSchedule: "@daily",
		},
		Log: LogConfig{
			Level: "info",
			Env:   "production",
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first if present; path may be empty to skip the YAML file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, set func(int64)) {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		set(n)
	}

	num("RATE_PRECISION", func(n int64) { c.Engine.RatePrecision = int32(n) })
	str("NUMERIC_TOLERANCE", &c.Engine.NumericTolerance)
	num("WORKERS", func(n int64) { c.Engine.Workers = int(n) })
	str("SERVER_ADDR", &c.Server.Addr)
	num("MAX_UPLOAD_MB", func(n int64) { c.Server.MaxUploadMB = n })
	str("UPLOAD_DIR", &c.Server.UploadDir)
	str("HISTORY_DIR", &c.History.Dir)
	num("HISTORY_RETENTION_DAYS", func(n int64) { c.History.RetentionDays = int(n) })
	str("HISTORY_PRUNE_SCHEDULE", &c.History.PruneSchedule)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_ENV", &c.Log.Env)
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.EngineOptions(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.RatePrecision < 0 {
		errs = append(errs, fmt.Errorf("engine.rate_precision must not be negative"))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be at least 1"))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive"))
	}
	if c.History.Dir == "" {
		errs = append(errs, fmt.Errorf("history.dir must be set"))
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("history.retention_days must not be negative"))
	}
	if c.History.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.History.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("history.prune_schedule: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// EngineOptions converts the engine section into run options.
func (c Config) EngineOptions() (engine.Options, error) {
	tol, err := decimal.NewFromString(strings.TrimSpace(c.Engine.NumericTolerance))
	if err != nil {
		return engine.Options{}, fmt.Errorf("engine.numeric_tolerance %q: %w", c.Engine.NumericTolerance, err)
	}
	if tol.IsNegative() {
		return engine.Options{}, fmt.Errorf("engine.numeric_tolerance must not be negative")
	}
	return engine.Options{
		RatePrecision:    c.Engine.RatePrecision,
		NumericTolerance: tol,
		Workers:          c.Engine.Workers,
	}, nil
}

// Retention is how long stored reports are kept. Zero keeps them forever.
func (c Config) Retention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// MaxUploadBytes is the multipart memory limit of one upload request.
func (c Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}
