// Package config loads and validates the access-coordination core's
// runtime configuration: lock-wait policy and logging. It follows the
// teacher's DefaultConfig/LoadFromEnv/Validate pipeline, narrowed to the
// two sections this core actually needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AccessConfig controls the lock manager: shard count, the default
// per-wait lock timeout, and the wait-queue bound past which requests are
// denied outright instead of queued.
type AccessConfig struct {
	NumKeyMaps   int           `yaml:"num_key_maps"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	TxnTimeout   time.Duration `yaml:"txn_timeout"`
	MaxWaitQueue int           `yaml:"max_wait_queue"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Access  AccessConfig  `yaml:"access"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns a Config with production-sane defaults: 8 lock-map
// shards, no configured lock timeout (derived per-transaction instead, see
// transaction.LockManager), a 30s transaction timeout, an unbounded wait
// queue, and info-level JSON logging.
func DefaultConfig() *Config {
	return &Config{
		Access: AccessConfig{
			NumKeyMaps:   8,
			LockTimeout:  0,
			TxnTimeout:   30 * time.Second,
			MaxWaitQueue: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads a YAML document at path into a Config seeded with
// DefaultConfig, so a file only needs to mention the fields it overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveToFile marshals cfg as YAML to path.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Environment variable names LoadFromEnv recognizes.
const (
	EnvLockTimeout  = "DARKSTAR_LOCK_TIMEOUT"
	EnvNumKeyMaps   = "DARKSTAR_NUM_KEY_MAPS"
	EnvTxnTimeout   = "DARKSTAR_TXN_TIMEOUT"
	EnvMaxWaitQueue = "DARKSTAR_MAX_WAIT_QUEUE"
	EnvLogLevel     = "DARKSTAR_LOG_LEVEL"
	EnvLogFormat    = "DARKSTAR_LOG_FORMAT"
)

// LoadFromEnv overlays environment variables onto DefaultConfig. Unset
// variables leave the default in place; malformed ones are reported.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv(EnvLockTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", EnvLockTimeout, err)
		}
		cfg.Access.LockTimeout = d
	}
	if v := os.Getenv(EnvNumKeyMaps); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", EnvNumKeyMaps, err)
		}
		cfg.Access.NumKeyMaps = n
	}
	if v := os.Getenv(EnvTxnTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", EnvTxnTimeout, err)
		}
		cfg.Access.TxnTimeout = d
	}
	if v := os.Getenv(EnvMaxWaitQueue); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", EnvMaxWaitQueue, err)
		}
		cfg.Access.MaxWaitQueue = n
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first configuration error found, if any.
func (c *Config) Validate() error {
	if c.Access.NumKeyMaps <= 0 {
		return fmt.Errorf("config: access.num_key_maps must be positive, got %d", c.Access.NumKeyMaps)
	}
	if c.Access.LockTimeout < 0 {
		return fmt.Errorf("config: access.lock_timeout must not be negative, got %s", c.Access.LockTimeout)
	}
	if c.Access.TxnTimeout <= 0 {
		return fmt.Errorf("config: access.txn_timeout must be positive, got %s", c.Access.TxnTimeout)
	}
	if c.Access.MaxWaitQueue < 0 {
		return fmt.Errorf("config: access.max_wait_queue must not be negative, got %d", c.Access.MaxWaitQueue)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}
