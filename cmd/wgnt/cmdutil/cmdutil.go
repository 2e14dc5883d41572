// Package cmdutil holds what every wgnt subcommand shares: the global flags,
// the resolved configuration and the driver backend they run against.
package cmdutil

import (
	"fmt"
	"strings"

	"wgnt/config"

	"github.com/spf13/cobra"
)

// Flags are the root command's persistent flags. Empty values fall back to
// the config file.
type Flags struct {
	ConfigPath    string
	DriverPath    string
	Backend       string
	Pool          string
	Adapter       string
	LogLevel      string
	LogFormat     string
	Debug         bool
	NoInteraction bool
}

func (f *Flags) Bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.ConfigPath, "config", "", "Config file (default "+config.Path()+")")
	pf.StringVar(&f.DriverPath, "driver", "", "Path to wireguard.dll")
	pf.StringVar(&f.Backend, "backend", "", "Driver backend: nt or user")
	pf.StringVar(&f.Pool, "pool", "", "Adapter pool")
	pf.StringVar(&f.Adapter, "adapter", "", "Adapter name")
	pf.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&f.LogFormat, "log-format", "", "Log format: text or json")
	pf.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&f.NoInteraction, "no-interaction", false, "Plain output without colors")
}

// Load reads the config file and applies the flags over it.
func (f *Flags) Load() (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	override(&cfg.DriverPath, f.DriverPath)
	override(&cfg.Backend, f.Backend)
	override(&cfg.Pool, f.Pool)
	override(&cfg.Adapter, f.Adapter)
	override(&cfg.Log.Level, f.LogLevel)
	override(&cfg.Log.Format, f.LogFormat)
	if f.Debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return cfg, nil
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
