package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	BLE      BLEConfig `yaml:"ble"`
	LogLevel string    `yaml:"log_level"`
}

// BLEConfig holds the peripheral and link settings.
type BLEConfig struct {
	DeviceName      string        `yaml:"device_name"`
	ServicePrefix   Prefix        `yaml:"service_prefix"`
	ReadCharPrefix  Prefix        `yaml:"read_char_prefix"`
	WriteCharPrefix Prefix        `yaml:"write_char_prefix"`
	ScanTimeout     time.Duration `yaml:"scan_timeout"`
	ReceiveTimeout  time.Duration `yaml:"receive_timeout"`
	MTU             int           `yaml:"mtu"`        // 0 leaves the MTU alone
	ChunkSize       int           `yaml:"chunk_size"` // 0 writes each payload at once
	InterChunkDelay time.Duration `yaml:"inter_chunk_delay"`
}

// Prefix is the numeric first group of a UUID. It is written as hex
// ("0xFFE0") and read from either hex or decimal.
type Prefix uint32

func (p Prefix) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("0x%04X", uint32(p))}, nil
}

func (p *Prefix) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(value.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid uuid prefix %q", value.Line, value.Value)
	}
	*p = Prefix(v)
	return nil
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "easyble")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		BLE: BLEConfig{
			ServicePrefix:   0xFFE0,
			ReadCharPrefix:  0xFFE1,
			WriteCharPrefix: 0xFFE1,
			ScanTimeout:     10 * time.Second,
			ReceiveTimeout:  100 * time.Second,
			InterChunkDelay: 20 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

const defaultHeader = `# easyble configuration
#
# service_prefix, read_char_prefix and write_char_prefix match the first
# group of the peripheral's UUIDs (0000FFE0-0000-1000-8000-00805F9B34FB).
# Set chunk_size to split writes for links that keep a 23-byte MTU.

`

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path. If a config file already exists it is left alone and
// WriteDefault returns ("", nil).
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.ReceiveTimeout <= 0 {
		return fmt.Errorf("ble.receive_timeout must be > 0")
	}
	if c.BLE.MTU != 0 && (c.BLE.MTU < 23 || c.BLE.MTU > 517) {
		return fmt.Errorf("ble.mtu must be 0 or between 23 and 517, got %d", c.BLE.MTU)
	}
	if c.BLE.ChunkSize < 0 {
		return fmt.Errorf("ble.chunk_size must be >= 0")
	}
	if c.BLE.InterChunkDelay < 0 {
		return fmt.Errorf("ble.inter_chunk_delay must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
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
