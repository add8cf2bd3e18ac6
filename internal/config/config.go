// Package config loads TuneBridge settings from TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvConfigPath names a config file that is loaded after the default locations.
const EnvConfigPath = "TUNEBRIDGE_CONFIG"

type Config struct {
	Log LogConfig `koanf:"log"`

	// Transport is "local" (all contexts in one process) or "nats"
	Transport string     `koanf:"transport"`
	NATS      NATSConfig `koanf:"nats"`

	// Store is "memory", "preferences", "sqlite" or "redis"
	Store  string       `koanf:"store"`
	SQLite SQLiteConfig `koanf:"sqlite"`
	Redis  RedisConfig  `koanf:"redis"`

	Panel  PanelConfig  `koanf:"panel"`
	Engine EngineConfig `koanf:"engine"`

	// CommandTimeout bounds a single request between contexts
	CommandTimeout time.Duration `koanf:"command_timeout"`

	// MetricsAddr enables the Prometheus endpoint when set, e.g. ":9464"
	MetricsAddr string `koanf:"metrics_addr"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // DEBUG, INFO, WARN, ERROR
	Format string `koanf:"format"` // "text" or "json"
}

type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"` // empty means the XDG data directory
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type PanelConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
}

type EngineConfig struct {
	// Device is "beep" (speaker output) or "mock" (silent, for headless runs)
	Device      string        `koanf:"device"`
	LoadTimeout time.Duration `koanf:"load_timeout"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "INFO", Format: "text"},
		Transport: "local",
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "tunebridge",
		},
		Store: "sqlite",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "tunebridge:",
		},
		Panel:          PanelConfig{PollInterval: time.Second},
		Engine:         EngineConfig{Device: "beep", LoadTimeout: 30 * time.Second},
		CommandTimeout: 5 * time.Second,
	}
}

// Load reads the config files in order of priority (last wins) and applies defaults.
func Load() (*Config, error) {
	return LoadFiles(getConfigPaths()...)
}

// LoadFiles reads the given files, skipping ones that do not exist.
func LoadFiles(paths ...string) (*Config, error) {
	k := koanf.New(".")

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()

	c.Transport = strings.ToLower(c.Transport)
	c.Store = strings.ToLower(c.Store)
	c.Engine.Device = strings.ToLower(c.Engine.Device)

	if c.Panel.PollInterval <= 0 {
		c.Panel.PollInterval = def.Panel.PollInterval
	}
	if c.Engine.LoadTimeout <= 0 {
		c.Engine.LoadTimeout = def.Engine.LoadTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}

	c.SQLite.Path = expandPath(c.SQLite.Path)
}

// Validate rejects unknown backend names.
func (c *Config) Validate() error {
	switch c.Transport {
	case "local", "nats":
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}

	switch c.Store {
	case "memory", "preferences", "sqlite", "redis":
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}

	switch c.Engine.Device {
	case "beep", "mock":
	default:
		return fmt.Errorf("config: unknown engine device %q", c.Engine.Device)
	}

	return nil
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/tunebridge/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tunebridge", "config.toml"))
	}

	// 2. ./tunebridge.toml
	paths = append(paths, "tunebridge.toml")

	// 3. $TUNEBRIDGE_CONFIG (highest priority)
	if env := os.Getenv(EnvConfigPath); env != "" {
		paths = append(paths, expandPath(env))
	}

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
