// Package config loads the client's TOML configuration file.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk ~/.quietlink/config.toml.
type Config struct {
	// ServerURL is the base URL of the messaging service.
	ServerURL string `toml:"server_url"`
	// DataDir holds the SQLite database and downloaded media.
	DataDir string `toml:"data_dir"`
	// LogLevel is a logrus level name: debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		ServerURL: "https://api.quietlink.example",
		DataDir:   filepath.Join(home, ".quietlink"),
		LogLevel:  "info",
	}
}

// Load reads config from the given path, applying defaults for any
// missing fields. A missing file is an error; callers fall back to
// Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = Default().ServerURL
	}
	if cfg.DataDir == "" {
		cfg.DataDir = Default().DataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
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
