package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/roomsync/config.yaml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "ROOMSYNC_CONFIG"

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Redis     RedisConfig     `koanf:"redis"`
	Mongo     MongoConfig     `koanf:"mongo"`
	Persist   PersistConfig   `koanf:"persist"`
	Execution ExecutionConfig `koanf:"execution"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RedisConfig configures the snapshot cache and hydration leases.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// MongoConfig configures the durable room record store.
type MongoConfig struct {
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

// PersistConfig tunes write coalescing.
type PersistConfig struct {
	Debounce     time.Duration `koanf:"debounce"`
	MaxWait      time.Duration `koanf:"max_wait"`
	FlushTimeout time.Duration `koanf:"flush_timeout"`
	LockTTL      time.Duration `koanf:"lock_ttl"`
}

// ExecutionConfig configures the external code-execution collaborator. An
// empty URL disables server-driven runs; rooms then only relay lifecycle
// messages from external drivers.
type ExecutionConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			DB:        0,
			KeyPrefix: "roomsync",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://127.0.0.1:27017",
			Database:   "roomsync",
			Collection: "rooms",
		},
		Persist: PersistConfig{
			Debounce:     2 * time.Second,
			MaxWait:      15 * time.Second,
			FlushTimeout: 10 * time.Second,
			LockTTL:      30 * time.Second,
		},
		Execution: ExecutionConfig{
			URL:     "",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from layered sources, lowest priority
// first: built-in defaults, then an optional YAML file, then ROOMSYNC_*
// environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// ROOMSYNC_REDIS_ADDR -> redis.addr, ROOMSYNC_PERSIST_MAX_WAIT ->
	// persist.max_wait. Only the first underscore splits section from key.
	envProvider := env.Provider("ROOMSYNC_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "ROOMSYNC_"))
		return strings.Replace(s, "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Persist.Debounce <= 0 {
		return fmt.Errorf("persist.debounce must be positive")
	}
	if c.Persist.MaxWait < c.Persist.Debounce {
		return fmt.Errorf("persist.max_wait must be at least persist.debounce")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level: %q", c.Logging.Level)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
