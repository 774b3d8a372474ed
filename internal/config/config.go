// Package config loads tasksync configuration from defaults, an optional
// config file, TASKSYNC_ environment variables and bound command flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orion/tasksync/internal/logging"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so remote.path is
// read from TASKSYNC_REMOTE_PATH.
const EnvPrefix = "TASKSYNC"

type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	DBPath       string             `mapstructure:"db_path"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Lifecycle    LifecycleConfig    `mapstructure:"lifecycle"`
	KV           KVConfig           `mapstructure:"kv"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Watch        WatchConfig        `mapstructure:"watch"`
	Log          LogConfig          `mapstructure:"log"`
}

type RemoteConfig struct {
	// Path is the peer store file shared between devices; empty is local-only
	Path         string        `mapstructure:"path"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// CheckAddr is a host:port dialed to decide whether the network is up
	CheckAddr    string        `mapstructure:"check_addr"`
}

type SubscriptionConfig struct {
	RefreshOnDelete       bool          `mapstructure:"refresh_on_delete"`
	DeleteRefreshThrottle time.Duration `mapstructure:"delete_refresh_throttle"`
	Debug                 bool          `mapstructure:"debug"`
}

type LifecycleConfig struct {
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	StartTimeout  time.Duration `mapstructure:"start_timeout"`
	ClearTimeout  time.Duration `mapstructure:"clear_timeout"`
	OutboxTimeout time.Duration `mapstructure:"outbox_timeout"`
}

type KVConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// Logging converts the log section for logging.New.
func (c LogConfig) Logging() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.File = c.File
	if c.MaxSizeMB > 0 {
		cfg.MaxSizeMB = c.MaxSizeMB
	}
	return cfg
}

// New returns a viper instance with defaults and environment binding.
// Callers bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("data_dir", ".tasksync")
	v.SetDefault("db_path", "")
	v.SetDefault("remote.path", "")
	v.SetDefault("remote.sync_interval", 2*time.Second)
	v.SetDefault("remote.check_addr", "")
	v.SetDefault("subscription.refresh_on_delete", true)
	v.SetDefault("subscription.delete_refresh_throttle", 500*time.Millisecond)
	v.SetDefault("subscription.debug", false)
	v.SetDefault("lifecycle.stop_timeout", 5*time.Second)
	v.SetDefault("lifecycle.start_timeout", 5*time.Second)
	v.SetDefault("lifecycle.clear_timeout", 5*time.Second)
	v.SetDefault("lifecycle.outbox_timeout", 2*time.Second)
	v.SetDefault("kv.backend", "sqlite")
	v.SetDefault("kv.redis_addr", "localhost:6379")
	v.SetDefault("kv.redis_password", "")
	v.SetDefault("kv.redis_db", 0)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("watch.debounce", 200*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, or searches for tasksync.{yaml,toml,json} in the
// working directory and $HOME/.tasksync when it is empty. A missing file
// in the search path is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("tasksync")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tasksync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.DataDir == "" {
		c.DataDir = ".tasksync"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "store.db")
	}
	switch c.KV.Backend {
	case "sqlite", "redis":
	case "":
		c.KV.Backend = "sqlite"
	default:
		return fmt.Errorf("invalid kv.backend %q: expected sqlite or redis", c.KV.Backend)
	}
	if c.Remote.SyncInterval <= 0 {
		return fmt.Errorf("invalid remote.sync_interval %v", c.Remote.SyncInterval)
	}
	return nil
}
