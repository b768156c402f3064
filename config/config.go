// Package config loads sqlbridge settings from an optional config file and
// SQLBRIDGE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/tomyedwab/sqlbridge/sqlproxy/bridge"
	"github.com/tomyedwab/sqlbridge/sqlproxy/engine"
	"github.com/tomyedwab/sqlbridge/sqlproxy/host"
)

// EnvPrefix prefixes every environment variable, e.g. SQLBRIDGE_SYNC_TIMEOUT.
const EnvPrefix = "SQLBRIDGE"

type Config struct {
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Local   LocalConfig   `mapstructure:"local"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type BridgeConfig struct {
	// Workers is the size of the engine worker pool. Zero picks a default
	// from GOMAXPROCS.
	Workers int `mapstructure:"workers"`
	// ReleaseTimeout bounds how long shutdown waits for busy workers.
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
}

type SyncConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LocalConfig struct {
	Driver string `mapstructure:"driver"`
}

type FetchConfig struct {
	Size int `mapstructure:"size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Addr is where Prometheus metrics are served. Empty disables them.
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bridge.workers", 0)
	v.SetDefault("bridge.release_timeout", 3*time.Second)
	v.SetDefault("sync.timeout", bridge.DefaultSyncTimeout)
	v.SetDefault("local.driver", engine.DriverSQLite3)
	v.SetDefault("fetch.size", host.DefaultFetchSize)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
}

// Load reads configuration from path, if non-empty, and the environment.
// Environment variables take precedence over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and less clearly.
func (c Config) Validate() error {
	switch c.Local.Driver {
	case engine.DriverSQLite3, engine.DriverSQLite:
	default:
		return fmt.Errorf("local.driver must be %q or %q, not %q",
			engine.DriverSQLite3, engine.DriverSQLite, c.Local.Driver)
	}
	if c.Bridge.Workers < 0 {
		return fmt.Errorf("bridge.workers must not be negative")
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, not %q", c.Log.Format)
	}
	return nil
}

// BridgeOptions returns the worker pool settings.
func (c Config) BridgeOptions() bridge.Config {
	return bridge.Config{
		Workers:        c.Bridge.Workers,
		ReleaseTimeout: c.Bridge.ReleaseTimeout,
	}
}

// HostOptions returns SQLHost settings running on b. Replicas additionally
// need a Syncer, which configuration cannot supply.
func (c Config) HostOptions(b *bridge.Bridge) host.Config {
	return host.Config{
		Bridge:      b,
		LocalDriver: c.Local.Driver,
		SyncTimeout: c.Sync.Timeout,
		FetchSize:   c.Fetch.Size,
	}
}
