// Package config loads the palsd daemon configuration from a TOML file.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration.
type Config struct {
	BaseURL    string `toml:"base_url"`
	GatewayURL string `toml:"gateway_url"`

	Token     string `toml:"token"`
	SessionID string `toml:"session_id"`

	// Intents lists gateway event categories by name; empty means the
	// default set.
	Intents []string `toml:"intents"`

	MessageCacheSize int    `toml:"message_cache_size"`
	LogPath          string `toml:"log_path"`
}

// DefaultPath returns the conventional config location under the user's home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pals.toml"
	}
	return filepath.Join(home, ".pals", "config.toml")
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file is restricted to the owner since it holds the API token.
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
