package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	BLE     BLEConfig     `yaml:"ble"`
	Session SessionConfig `yaml:"session"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// BLEConfig holds link settings for the robot. Durations are YAML strings
// such as "30s". A negative health_interval, tools_request_delay or
// reconnect_prompt_delay disables that behaviour.
type BLEConfig struct {
	DeviceName         string `yaml:"device_name"`
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`

	MaxWriteBytes    int  `yaml:"max_write_bytes"`
	OutboundChunking bool `yaml:"outbound_chunking"`

	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	HealthInterval       time.Duration `yaml:"health_interval"`
	ToolsRequestDelay    time.Duration `yaml:"tools_request_delay"`
	AutoReconnectWindow  time.Duration `yaml:"auto_reconnect_window"`
	ReconnectPromptDelay time.Duration `yaml:"reconnect_prompt_delay"`

	NotifyBuffer    int     `yaml:"notify_buffer"`
	WriteRate       float64 `yaml:"write_rate"` // writes/second, negative = unlimited
	WriteBurst      int     `yaml:"write_burst"`
	BreakerFailures uint32  `yaml:"breaker_failures"`

	ReassemblyTTL        time.Duration `yaml:"reassembly_ttl"`
	ReassemblyMaxPending int           `yaml:"reassembly_max_pending"`
}

// SessionConfig controls where the saved session lives.
type SessionConfig struct {
	Path string        `yaml:"path"` // SQLite file; empty keeps the session in memory
	TTL  time.Duration `yaml:"ttl"`
}

// BridgeConfig holds websocket bridge settings.
type BridgeConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout" or a file path
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "noop" or "stdout"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "santa-link")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	sessionPath := filepath.Join(home, ".local", "share", "santa-link", "session.db")

	return &Config{
		BLE: BLEConfig{
			DeviceName:           "Santa-Bot",
			ServiceUUID:          "0d9be2a0-4757-43d9-83df-704ae274b8df",
			CharacteristicUUID:   "8116d8c0-d45d-4fdf-998e-33ab8c471d59",
			MaxWriteBytes:        200,
			ConnectTimeout:       30 * time.Second,
			HealthInterval:       30 * time.Second,
			ToolsRequestDelay:    time.Second,
			AutoReconnectWindow:  time.Hour,
			ReconnectPromptDelay: 3 * time.Second,
			NotifyBuffer:         64,
			WriteRate:            50,
			WriteBurst:           1,
			BreakerFailures:      3,
			ReassemblyTTL:        30 * time.Second,
			ReassemblyMaxPending: 64,
		},
		Session: SessionConfig{
			Path: sessionPath,
			TTL:  7 * 24 * time.Hour,
		},
		Bridge: BridgeConfig{
			Addr:           "127.0.0.1:8765",
			AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in session.path and log.output is expanded to the
// user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Session.Path = expandTilde(cfg.Session.Path)
	cfg.Log.Output = expandTilde(cfg.Log.Output)

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// WriteDefault writes the default config to DefaultConfigPath unless a file
// is already there. It returns the path written, or "" if nothing was written.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	content := "# santa-link configuration\n# Durations use Go syntax, e.g. 30s, 1h.\n\n" + string(body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.DeviceName == "" {
		return fmt.Errorf("ble.device_name must not be empty")
	}
	if c.BLE.ServiceUUID == "" || c.BLE.CharacteristicUUID == "" {
		return fmt.Errorf("ble.service_uuid and ble.characteristic_uuid must not be empty")
	}
	if c.BLE.MaxWriteBytes <= 0 {
		return fmt.Errorf("ble.max_write_bytes must be > 0")
	}
	if c.BLE.OutboundChunking && c.BLE.MaxWriteBytes < 64 {
		return fmt.Errorf("ble.max_write_bytes must be >= 64 with outbound_chunking, got %d", c.BLE.MaxWriteBytes)
	}
	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.AutoReconnectWindow <= 0 {
		return fmt.Errorf("ble.auto_reconnect_window must be > 0")
	}
	if c.BLE.HealthInterval > 0 && c.BLE.HealthInterval < time.Second {
		return fmt.Errorf("ble.health_interval must be at least 1s, got %s", c.BLE.HealthInterval)
	}
	if c.BLE.NotifyBuffer < 0 || c.BLE.WriteBurst < 0 || c.BLE.ReassemblyMaxPending < 0 {
		return fmt.Errorf("ble.notify_buffer, ble.write_burst and ble.reassembly_max_pending must not be negative")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0")
	}

	if c.Bridge.Addr == "" {
		return fmt.Errorf("bridge.addr must not be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	switch c.Tracing.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be \"noop\" or \"stdout\", got %q", c.Tracing.Exporter)
	}

	return nil
}

// ParseLogLevel maps a config level name to a slog.Level. Unknown names
// map to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
