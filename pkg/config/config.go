// Package config loads the daemon configuration from defaults, an optional
// YAML file and CATALOG_* environment variables, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sketchpacks/plugin-catalog/pkg/cache"
	"github.com/sketchpacks/plugin-catalog/pkg/registry"
	"github.com/sketchpacks/plugin-catalog/pkg/scheduler"
)

// EnvPrefix is prepended to every environment variable, with dots in the
// key replaced by underscores: CATALOG_SCHEDULER_INTERVAL.
const EnvPrefix = "CATALOG"

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Database types understood by pkg/db.
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
	DatabaseMySQL    = "mysql"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	Registry    RegistryConfig  `mapstructure:"registry"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Server      ServerConfig    `mapstructure:"server"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Lifecycle   LifecycleConfig `mapstructure:"lifecycle"`
}

type RegistryConfig struct {
	APIURL      string        `mapstructure:"api_url"`
	CatalogPath string        `mapstructure:"catalog_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

type LifecycleConfig struct {
	// WebhookURL receives install requests as JSON. Empty keeps them on the
	// in-process bus.
	WebhookURL string `mapstructure:"webhook_url"`
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// no default, so the key must be bound for env lookup during Unmarshal
	if err := v.BindEnv("scheduler.interval"); err != nil {
		return nil, fmt.Errorf("binding scheduler.interval: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = scheduler.DefaultInterval
		if cfg.IsDevelopment() {
			cfg.Scheduler.Interval = scheduler.DevelopmentInterval
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvProduction)

	v.SetDefault("registry.api_url", registry.DefaultBaseURL)
	v.SetDefault("registry.catalog_path", registry.DefaultCatalogPath)
	v.SetDefault("registry.timeout", registry.DefaultTimeout)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.startup_delay", scheduler.DefaultStartupDelay)

	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.dsn", defaultSQLitePath())

	v.SetDefault("server.listen", "127.0.0.1:8080")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("cache.max_size", cache.DefaultMaxSize)

	v.SetDefault("lifecycle.webhook_url", "")
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "catalog.db"
	}
	return filepath.Join(dir, "sketchpacks", "catalog.db")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Environment {
	case EnvProduction, EnvDevelopment:
	default:
		errs = append(errs, fmt.Errorf("environment must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Environment))
	}
	if strings.TrimSpace(c.Registry.APIURL) == "" {
		errs = append(errs, errors.New("registry.api_url is required"))
	}
	if c.Registry.Timeout <= 0 {
		errs = append(errs, errors.New("registry.timeout must be positive"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.StartupDelay < 0 {
		errs = append(errs, errors.New("scheduler.startup_delay must not be negative"))
	}
	switch c.Database.Type {
	case DatabaseSQLite, DatabasePostgres, DatabaseMySQL:
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not one of sqlite, postgres, mysql", c.Database.Type))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Cache.Enabled && c.Cache.MaxSize < 1 {
		errs = append(errs, errors.New("cache.max_size must be at least 1"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the daemon runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// SchedulerConfig returns the scheduler settings.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Interval:     c.Scheduler.Interval,
		StartupDelay: c.Scheduler.StartupDelay,
	}
}

// CacheConfig returns the response cache settings.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Enabled: c.Cache.Enabled,
		TTL:     c.Cache.TTL,
		MaxSize: c.Cache.MaxSize,
	}
}
