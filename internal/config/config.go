package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in config.
const (
	BackendSystem = "system"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds persistent CLI configuration loaded from
// ~/.keystash/config.yaml, overridden by KEYSTASH_* environment variables.
// An empty Service means the default service name.
type Config struct {
	Service     string `yaml:"service" env:"KEYSTASH_SERVICE"`
	AccessGroup string `yaml:"access_group" env:"KEYSTASH_ACCESS_GROUP"`
	Backend     string `yaml:"backend" env:"KEYSTASH_BACKEND" validate:"omitempty,oneof=system sqlite memory"`
	StorePath   string `yaml:"store_path" env:"KEYSTASH_STORE_PATH"`
	KeyPath     string `yaml:"key_path" env:"KEYSTASH_KEY_PATH"`
	AuditLog    string `yaml:"audit_log" env:"KEYSTASH_AUDIT_LOG"`
	LogLevel    string `yaml:"log_level" env:"KEYSTASH_LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
}

// Home returns the keystash home directory (~/.keystash).
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".keystash")
}

// DefaultPath returns the default config file path: ~/.keystash/config.yaml.
func DefaultPath() string {
	h := Home()
	if h == "" {
		return ""
	}
	return filepath.Join(h, "config.yaml")
}

// Load reads a YAML config file from path, applies environment overrides
// and validates the result. If the file does not exist, or is empty or
// all comments, the environment alone is used.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ResolvedBackend returns the configured backend, defaulting to the system
// keychain on macOS and the sqlite store elsewhere.
func (c *Config) ResolvedBackend() string {
	if c.Backend != "" {
		return c.Backend
	}
	if runtime.GOOS == "darwin" {
		return BackendSystem
	}
	return BackendSQLite
}

// ResolvedStorePath returns StorePath or ~/.keystash/keychain.db.
func (c *Config) ResolvedStorePath() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	return filepath.Join(Home(), "keychain.db")
}

// ResolvedKeyPath returns KeyPath or ~/.keystash/master.key.
func (c *Config) ResolvedKeyPath() string {
	if c.KeyPath != "" {
		return c.KeyPath
	}
	return filepath.Join(Home(), "master.key")
}
