// Package config handles the wgnt CLI settings file.
//
// Config is stored at $XDG_CONFIG_HOME/wgnt/config.yaml (defaults to
// ~/.config/wgnt/config.yaml). Every field is optional; missing fields take
// the values from Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDriverPath = "wireguard.dll"
	DefaultPool       = "WireGuard"
	DefaultAdapter    = "Demo"
	DefaultServer     = "demo.wireguard.com:42912"
	DefaultDuration   = 30 * time.Second
	DefaultBackend    = "nt"
)

// Config holds the CLI settings.
type Config struct {
	DriverPath string        `yaml:"driver-path,omitempty"`
	Backend    string        `yaml:"backend,omitempty"` // nt or user
	Pool       string        `yaml:"pool,omitempty"`
	Adapter    string        `yaml:"adapter,omitempty"`
	Server     string        `yaml:"server,omitempty"`
	Duration   time.Duration `yaml:"duration,omitempty"`
	StatePath  string        `yaml:"state-path,omitempty"`
	Log        Log           `yaml:"log,omitempty"`
}

type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		DriverPath: DefaultDriverPath,
		Backend:    DefaultBackend,
		Pool:       DefaultPool,
		Adapter:    DefaultAdapter,
		Server:     DefaultServer,
		Duration:   DefaultDuration,
		StatePath:  filepath.Join(baseDir(), "wgnt", "state.db"),
		Log:        Log{Level: "info", Format: "text"},
	}
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/wgnt/config.yaml.
func Path() string {
	return filepath.Join(baseDir(), "wgnt", "config.yaml")
}

func baseDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config"
	}
	return filepath.Join(home, ".config")
}

// Load reads the config file at path, or at Path() when path is empty.
// A missing file yields Default (not an error).
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.merge(file)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the CLI cannot act on.
func (c *Config) Validate() error {
	switch c.Backend {
	case "nt", "user":
	default:
		return fmt.Errorf("backend %q must be nt or user", c.Backend)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration %s is negative", c.Duration)
	}
	if c.Pool == "" || c.Adapter == "" {
		return errors.New("pool and adapter are required")
	}
	return nil
}

// Save writes the config to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) merge(o Config) {
	if o.DriverPath != "" {
		c.DriverPath = o.DriverPath
	}
	if o.Backend != "" {
		c.Backend = o.Backend
	}
	if o.Pool != "" {
		c.Pool = o.Pool
	}
	if o.Adapter != "" {
		c.Adapter = o.Adapter
	}
	if o.Server != "" {
		c.Server = o.Server
	}
	if o.Duration != 0 {
		c.Duration = o.Duration
	}
	if o.StatePath != "" {
		c.StatePath = o.StatePath
	}
	if o.Log.Level != "" {
		c.Log.Level = o.Log.Level
	}
	if o.Log.Format != "" {
		c.Log.Format = o.Log.Format
	}
}
