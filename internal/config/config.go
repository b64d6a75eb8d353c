// Package config loads the server configuration from a YAML file,
// falling back to defaults when the file is absent. Configuration is
// read once at startup; nothing re-reads it at runtime.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Stream  StreamConfig  `yaml:"stream"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the listen address of the HTTP/WebSocket server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CaptureConfig controls source discovery and per-source capture loops.
type CaptureConfig struct {
	// Provider selects the capture backend: "display" or "mock".
	// "display" falls back to mock when no displays are attached.
	Provider             string  `yaml:"provider"`
	MaxFPS               int     `yaml:"max_fps"`
	DiscoveryIntervalSec float64 `yaml:"discovery_interval_sec"`
}

// StreamConfig controls per-client stream sessions.
type StreamConfig struct {
	MaxFPS      int `yaml:"max_fps"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8765},
		Capture: CaptureConfig{Provider: "display", MaxFPS: 60, DiscoveryIntervalSec: 5},
		Stream:  StreamConfig{MaxFPS: 60, JPEGQuality: 80},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path. A missing file is not an error:
// defaults are returned. Values omitted from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("config file not found, using defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Capture.MaxFPS <= 0 {
		return fmt.Errorf("config: capture max_fps must be positive, got %d", c.Capture.MaxFPS)
	}
	if c.Stream.MaxFPS <= 0 {
		return fmt.Errorf("config: stream max_fps must be positive, got %d", c.Stream.MaxFPS)
	}
	if c.Stream.JPEGQuality < 1 || c.Stream.JPEGQuality > 100 {
		return fmt.Errorf("config: jpeg_quality must be in [1, 100], got %d", c.Stream.JPEGQuality)
	}
	if c.Capture.DiscoveryIntervalSec <= 0 {
		return fmt.Errorf("config: discovery_interval_sec must be positive")
	}
	return nil
}

// LogLevel maps the configured level name to a slog level, defaulting to
// info for unknown names.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
