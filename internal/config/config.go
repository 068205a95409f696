package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/N283T/pdb-sync-sub001/internal/checksum"
	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. PDB_SYNC_ENGINE_TYPE
const EnvPrefix = "PDB_SYNC"

// Config represents the entire application configuration
type Config struct {
	Mirror      MirrorConfig      `mapstructure:"mirror"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Aria2c      Aria2cConfig      `mapstructure:"aria2c"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// MirrorConfig describes the local mirror and its remote source
type MirrorConfig struct {
	Root            string `mapstructure:"root"`
	BaseURL         string `mapstructure:"base_url"`
	Manifest        string `mapstructure:"manifest"`
	Algorithm       string `mapstructure:"algorithm"`
	DuplicatePolicy string `mapstructure:"duplicate_policy"`
}

// EngineConfig contains transfer settings
type EngineConfig struct {
	Type             string `mapstructure:"type"`
	Workers          int    `mapstructure:"workers"`
	MaxRetries       int    `mapstructure:"max_retries"`
	RetryBackoff     string `mapstructure:"retry_backoff"`
	RetryMaxBackoff  string `mapstructure:"retry_max_backoff"`
	PerFileTimeout   string `mapstructure:"per_file_timeout"`
	Resume           bool   `mapstructure:"resume"`
	BandwidthLimit   string `mapstructure:"bandwidth_limit"` // e.g. "10MB", empty is unlimited
	ProgressInterval string `mapstructure:"progress_interval"`
	UserAgent        string `mapstructure:"user_agent"`
}

// Aria2cConfig contains settings for the external aria2c engine
type Aria2cConfig struct {
	Binary       string   `mapstructure:"binary"`
	Connections  int      `mapstructure:"connections"`
	Split        int      `mapstructure:"split"`
	MinSplitSize string   `mapstructure:"min_split_size"`
	ExtraArgs    []string `mapstructure:"extra_args"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DatabaseConfig contains pass history settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty disables history
}

// MaintenanceConfig contains cleanup settings
type MaintenanceConfig struct {
	Interval        string `mapstructure:"interval"`
	TempFileMaxAge  string `mapstructure:"temp_file_max_age"`
	HistoryMaxAge   string `mapstructure:"history_max_age"`
	RemoveEmptyDirs bool   `mapstructure:"remove_empty_dirs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mirror.root", "./pdb")
	v.SetDefault("mirror.base_url", "https://files.wwpdb.org/pub/pdb")
	v.SetDefault("mirror.manifest", "")
	v.SetDefault("mirror.algorithm", "")
	v.SetDefault("mirror.duplicate_policy", string(checksum.DuplicateLastWins))
	v.SetDefault("engine.type", string(domain.EngineBuiltin))
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.retry_backoff", "1s")
	v.SetDefault("engine.retry_max_backoff", "30s")
	v.SetDefault("engine.per_file_timeout", "30m")
	v.SetDefault("engine.resume", true)
	v.SetDefault("engine.bandwidth_limit", "")
	v.SetDefault("engine.progress_interval", "1s")
	v.SetDefault("engine.user_agent", "pdb-sync/1.0")
	v.SetDefault("aria2c.binary", "aria2c")
	v.SetDefault("aria2c.connections", 4)
	v.SetDefault("aria2c.split", 4)
	v.SetDefault("aria2c.min_split_size", "1M")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("database.path", "")
	v.SetDefault("maintenance.interval", "1h")
	v.SetDefault("maintenance.temp_file_max_age", "168h")
	v.SetDefault("maintenance.history_max_age", "2160h")
	v.SetDefault("maintenance.remove_empty_dirs", false)
}

// Load loads configuration from the specified file path.
// An empty path uses defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Mirror.Root == "" {
		return fmt.Errorf("mirror.root is required")
	}
	if c.Mirror.Algorithm != "" {
		if _, err := domain.ParseAlgorithm(c.Mirror.Algorithm); err != nil {
			return fmt.Errorf("invalid mirror.algorithm: %w", err)
		}
	}
	if _, err := checksum.ParseDuplicatePolicy(c.Mirror.DuplicatePolicy); err != nil {
		return fmt.Errorf("invalid mirror.duplicate_policy: %w", err)
	}

	if _, err := domain.ParseEngineType(c.Engine.Type); err != nil {
		return fmt.Errorf("invalid engine.type: %w", err)
	}
	if c.Engine.Workers < 0 || c.Engine.Workers > 64 {
		return fmt.Errorf("engine.workers must be between 0 and 64")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}
	for key, val := range map[string]string{
		"engine.retry_backoff":          c.Engine.RetryBackoff,
		"engine.retry_max_backoff":      c.Engine.RetryMaxBackoff,
		"engine.per_file_timeout":       c.Engine.PerFileTimeout,
		"engine.progress_interval":      c.Engine.ProgressInterval,
		"maintenance.interval":          c.Maintenance.Interval,
		"maintenance.temp_file_max_age": c.Maintenance.TempFileMaxAge,
		"maintenance.history_max_age":   c.Maintenance.HistoryMaxAge,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.Engine.BandwidthLimit != "" {
		if _, err := humanize.ParseBytes(c.Engine.BandwidthLimit); err != nil {
			return fmt.Errorf("invalid engine.bandwidth_limit: %w", err)
		}
	}

	if c.Aria2c.Connections < 1 || c.Aria2c.Connections > 16 {
		return fmt.Errorf("aria2c.connections must be between 1 and 16")
	}
	if c.Aria2c.Split < 1 {
		return fmt.Errorf("aria2c.split must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// Warnings lists settings that are valid but probably unintended
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Engine.GetEngineType() == domain.EngineAria2c && c.Engine.Workers > 1 {
		warnings = append(warnings, fmt.Sprintf(
			"engine.workers=%d with aria2c: aria2c already splits each file, and if the binary is missing every worker tries once before the pass aborts",
			c.Engine.Workers))
	}
	return warnings
}

// GetEngineType returns the parsed engine type
func (c *EngineConfig) GetEngineType() domain.EngineType {
	t, _ := domain.ParseEngineType(c.Type)
	return t
}

// GetRetryBackoff returns the base retry backoff as time.Duration
func (c *EngineConfig) GetRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	if d == 0 {
		return time.Second
	}
	return d
}

// GetRetryMaxBackoff returns the backoff cap as time.Duration
func (c *EngineConfig) GetRetryMaxBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryMaxBackoff)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetPerFileTimeout returns the per-file timeout, 0 means none
func (c *EngineConfig) GetPerFileTimeout() time.Duration {
	d, _ := time.ParseDuration(c.PerFileTimeout)
	return d
}

// GetProgressInterval returns the progress event interval as time.Duration
func (c *EngineConfig) GetProgressInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressInterval)
	if d == 0 {
		return time.Second
	}
	return d
}

// GetBandwidthLimit returns the limit in bytes per second, 0 is unlimited
func (c *EngineConfig) GetBandwidthLimit() int64 {
	if c.BandwidthLimit == "" {
		return 0
	}
	n, _ := humanize.ParseBytes(c.BandwidthLimit)
	return int64(n)
}

// GetAlgorithm returns the manifest algorithm, empty for auto-detection
func (c *MirrorConfig) GetAlgorithm() domain.Algorithm {
	if c.Algorithm == "" {
		return ""
	}
	a, _ := domain.ParseAlgorithm(c.Algorithm)
	return a
}

// GetDuplicatePolicy returns the parsed duplicate policy
func (c *MirrorConfig) GetDuplicatePolicy() checksum.DuplicatePolicy {
	p, _ := checksum.ParseDuplicatePolicy(c.DuplicatePolicy)
	return p
}

// GetInterval returns the maintenance interval as time.Duration
func (c *MaintenanceConfig) GetInterval() time.Duration {
	d, _ := time.ParseDuration(c.Interval)
	if d == 0 {
		return time.Hour
	}
	return d
}

// GetTempFileMaxAge returns the temp file age limit as time.Duration
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TempFileMaxAge)
	if d == 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// GetHistoryMaxAge returns the history age limit, 0 keeps everything
func (c *MaintenanceConfig) GetHistoryMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.HistoryMaxAge)
	return d
}
