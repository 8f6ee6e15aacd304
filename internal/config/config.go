// Package config loads versync's TOML configuration and watches it for
// changes.
//
// Example config.toml:
//
//	data_dir = "/home/ada/.versync"
//	active_workspace = "wrk_3f9c"
//	author = "Ada"
//	resolver = "terminal"
//
//	[log]
//	level = "debug"
//	file = "/home/ada/.versync/versync.log"
//
//	[dashboard]
//	addr = "127.0.0.1:8787"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the config file inside the data directory.
const FileName = "config.toml"

// Resolver names accepted by the resolver setting.
const (
	ResolverTerminal = "terminal" // prompt on the controlling terminal
	ResolverRemote   = "remote"   // wait for a dashboard client
	ResolverOurs     = "ours"
	ResolverTheirs   = "theirs"
	ResolverCancel   = "cancel"
)

// Config is the complete versync configuration.
type Config struct {
	// DataDir holds the database, local history and repositories.
	DataDir string `toml:"data_dir"`

	// ActiveWorkspace is activated when the service starts.
	ActiveWorkspace string `toml:"active_workspace"`

	// Author is recorded on local snapshots.
	Author string `toml:"author"`

	// Engine selects the registered version-control engine.
	Engine string `toml:"engine"`

	// Resolver decides merge conflicts.
	Resolver string `toml:"resolver"`

	Log       LogConfig       `toml:"log"`
	Dashboard DashboardConfig `toml:"dashboard"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
	File   string `toml:"file"`   // empty logs to stderr

	MaxSizeMB  int `toml:"max_size_mb"`
	MaxBackups int `toml:"max_backups"`
	MaxAgeDays int `toml:"max_age_days"`
}

// DashboardConfig configures the live change feed.
type DashboardConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// DefaultDataDir returns ~/.versync, or .versync when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".versync"
	}
	return filepath.Join(home, ".versync")
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  DefaultDataDir(),
		Author:   "versync",
		Engine:   "git",
		Resolver: ResolverTerminal,
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8787",
		},
	}
}

// Load reads path on top of the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory. The file is replaced
// atomically so a watcher never reads it half written.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	defer os.Remove(f.Name())

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.Resolver {
	case ResolverTerminal, ResolverRemote, ResolverOurs, ResolverTheirs, ResolverCancel:
	default:
		return fmt.Errorf("unknown resolver %q", c.Resolver)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// DatabasePath is the document database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "versync.db")
}

// PIDPath is the lock file held by a running service.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "versync.pid")
}

// HistoryDir is the root of the local versioned-project store.
func (c *Config) HistoryDir() string {
	return filepath.Join(c.DataDir, "version-control")
}
