// Package config loads the daemon configuration: YAML file, environment
// overrides on top, hot reload via filesystem watch.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the persistence profile.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the daemon's full configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// Backend is memory or postgres.
	Backend string `yaml:"backend"`
	// PostgresDSN is required for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
	// FeedURL, when set, relays an upstream daemon's change feed into the
	// local hub; empty means only local mutations are broadcast.
	FeedURL string `yaml:"feed_url"`
	// OpWindow is the duplicate-trigger suppression window for moves.
	OpWindow time.Duration `yaml:"op_window"`
	// NormalizeThreshold is how many fractional order keys a block may
	// accumulate before renormalization.
	NormalizeThreshold int `yaml:"normalize_threshold"`
	// LogLevel is a zerolog level name: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file and no environment are
// present.
func Default() Config {
	return Config{
		Addr:               ":8080",
		Backend:            BackendMemory,
		OpWindow:           time.Second,
		NormalizeThreshold: 8,
		LogLevel:           "info",
	}
}

// Load reads the YAML file at path, if any, then applies ESPELHO_*
// environment overrides. A missing file is not an error; an unreadable or
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = stringEnv("ESPELHO_ADDR", c.Addr)
	c.Backend = stringEnv("ESPELHO_BACKEND", c.Backend)
	c.PostgresDSN = stringEnv("ESPELHO_POSTGRES_DSN", c.PostgresDSN)
	c.FeedURL = stringEnv("ESPELHO_FEED_URL", c.FeedURL)
	c.OpWindow = durationEnv("ESPELHO_OP_WINDOW", c.OpWindow)
	c.NormalizeThreshold = intEnv("ESPELHO_NORMALIZE_THRESHOLD", c.NormalizeThreshold)
	c.LogLevel = stringEnv("ESPELHO_LOG_LEVEL", c.LogLevel)
}

// Validate reports configuration that cannot be started with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires a DSN")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.NormalizeThreshold < 0 {
		return fmt.Errorf("normalize threshold must not be negative")
	}
	return nil
}

func stringEnv(name, fallback string) string {
	if raw := os.Getenv(name); raw != "" {
		return raw
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
