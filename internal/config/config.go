// Package config provides configuration management.
// Files may be json, yaml or toml; PORTFOLIO_* environment variables
// override any key (PORTFOLIO_SCORING_WEIGHTS_SCHEDULE=0.5).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/core/normalize"
	"portfolio-optimizer/core/optimizer"
	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
)

// EnvPrefix prefixes environment overrides
const EnvPrefix = "PORTFOLIO"

// Config is the main application configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version" mapstructure:"version"`

	// Scoring contains risk scoring weights and parameters
	Scoring risk.Config `json:"scoring" mapstructure:"scoring"`

	// Normalize contains ingestion defaults
	Normalize NormalizeConfig `json:"normalize" mapstructure:"normalize"`

	// Optimizer contains solver limits and policies
	Optimizer optimizer.Config `json:"optimizer" mapstructure:"optimizer"`

	// Engine contains session and queue settings
	Engine engine.Config `json:"engine" mapstructure:"engine"`

	// Storage contains audit sink settings
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Server contains API server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Output contains output configuration
	Output OutputConfig `json:"output" mapstructure:"output"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging" mapstructure:"logging"`
}

// NormalizeConfig contains ingestion defaults
type NormalizeConfig struct {
	// DefaultDemand applies when demand is missing and no budget remains
	DefaultDemand float64 `json:"default_demand" mapstructure:"default_demand"`
}

// StorageConfig contains audit sink settings
type StorageConfig struct {
	// Driver is sqlite, postgres, or empty for in-memory history only
	Driver string `json:"driver" mapstructure:"driver"`

	// DSN is the data source name
	DSN string `json:"dsn" mapstructure:"dsn"`
}

// ServerConfig contains API server settings
type ServerConfig struct {
	// Address is the listen address
	Address string `json:"address" mapstructure:"address"`

	// PortfolioDir holds portfolio files loaded at start
	PortfolioDir string `json:"portfolio_dir" mapstructure:"portfolio_dir"`

	// Schedule is the cron spec of the re-optimization tick
	Schedule string `json:"schedule" mapstructure:"schedule"`

	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// SolveTimeout bounds one scheduled or requested solve
	SolveTimeout time.Duration `json:"solve_timeout" mapstructure:"solve_timeout"`
}

// OutputConfig contains output-related settings
type OutputConfig struct {
	// DefaultFormat is table, json or yaml
	DefaultFormat string `json:"default_format" mapstructure:"default_format"`

	// ShowRationale prints per-project rationale lines
	ShowRationale bool `json:"show_rationale" mapstructure:"show_rationale"`
}

// Default returns a default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dbPath := filepath.Join(homeDir, ".portfolio-optimizer", "history.db")

	return &Config{
		Version:   "1.0",
		Scoring:   risk.DefaultConfig(),
		Normalize: NormalizeConfig{DefaultDemand: 0},
		Optimizer: optimizer.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    dbPath,
		},
		Server: ServerConfig{
			Address:         ":8080",
			PortfolioDir:    "portfolios",
			Schedule:        "@every 5m",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			SolveTimeout:    time.Minute,
		},
		Output: OutputConfig{
			DefaultFormat: "table",
			ShowRationale: true,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads configuration from path, or from defaults and environment
// only when path is empty. A missing file is not an error.
func Load(path string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
				return nil, errors.Config("failed to read "+path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Config("failed to decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration; the format follows the file extension
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	flat, err := flatten(c)
	if err != nil {
		return err
	}
	v := viper.New()
	for key, val := range flat {
		v.Set(key, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return errors.Config("failed to write "+path, err)
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if c.Normalize.DefaultDemand < 0 {
		return errors.Config("normalize.default_demand must be non-negative", nil)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return errors.Config("unknown storage driver "+c.Storage.Driver, nil)
	}
	if c.Server.Schedule != "" {
		if _, err := cron.ParseStandard(c.Server.Schedule); err != nil {
			return errors.Config("invalid server.schedule", err)
		}
	}
	switch c.Output.DefaultFormat {
	case "table", "json", "yaml":
	default:
		return errors.Config("unknown output format "+c.Output.DefaultFormat, nil)
	}
	return nil
}

// NormalizeOptions returns the normalizer options. The overrun tolerance is
// shared with scoring so the two never disagree.
func (c *Config) NormalizeOptions() normalize.Options {
	return normalize.Options{
		OverrunTolerance: c.Scoring.OverrunTolerance,
		DefaultDemand:    c.Normalize.DefaultDemand,
	}
}

// newViper returns a viper instance seeded with every default key so
// environment overrides apply to all of them
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	flat, err := flatten(Default())
	if err != nil {
		return nil, err
	}
	for key, val := range flat {
		v.SetDefault(key, val)
	}
	return v, nil
}

// flatten maps a config to dotted keys using its json tags
func flatten(c *Config) (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Internal("failed to encode configuration", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, errors.Internal("failed to decode configuration", err)
	}

	out := make(map[string]interface{})
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if child, ok := v.(map[string]interface{}); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", tree)
	return out, nil
}

// Global configuration instance
var (
	globalMu     sync.RWMutex
	globalConfig = Default()
)

// Get returns the global configuration
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// Set sets the global configuration
func Set(config *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = config
}
