package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults for daemon settings when the config file omits them.
const (
	DefaultListen          = "127.0.0.1:8384"
	DefaultPollInterval    = 60 // seconds
	DefaultMessageWindow   = 15
	DefaultRecentWindowCap = 100
)

// Config represents the global ~/.groupwatch/config.toml.
type Config struct {
	DefaultSession  string `toml:"default_session"`
	Listen          string `toml:"listen"`
	PollIntervalSec int    `toml:"poll_interval"`
	MessageWindow   int    `toml:"message_window"`
	RecentWindowCap int    `toml:"recent_window_cap"`
	ImportDir       string `toml:"import_dir"`
}

// PollInterval returns the polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.PollIntervalSec <= 0 {
		c.PollIntervalSec = DefaultPollInterval
	}
	if c.MessageWindow <= 0 {
		c.MessageWindow = DefaultMessageWindow
	}
	if c.RecentWindowCap <= 0 {
		c.RecentWindowCap = DefaultRecentWindowCap
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from the given path, falling back to a default
// config when the file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
		cfg.ApplyDefaults()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
