/*
Package config holds the server configuration.

SOURCES (later wins):
  1. Defaults()
  2. YAML file passed to Load (optional)
  3. Command-line flags applied by cmd/server

YAML EXAMPLE:
  port: 8080
  db: ./data/material.db
  log_mode: production
  debounce: 5s
  auto_calc_dimensions: true
  seed_catalog: ./catalog.yaml
  session_idle_timeout: 30m
  reap_interval: 1m
  allowed_origins:
    - http://localhost:5173
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Port               int           `yaml:"port"`
	DBPath             string        `yaml:"db"`
	LogMode            string        `yaml:"log_mode"`
	Debounce           time.Duration `yaml:"debounce"`
	AutoCalcDimensions bool          `yaml:"auto_calc_dimensions"`
	SeedCatalog        string        `yaml:"seed_catalog"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`

	// Sessions untouched for SessionIdleTimeout are closed by the reaper,
	// which checks every ReapInterval. A zero timeout keeps sessions forever.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	ReapInterval       time.Duration `yaml:"reap_interval"`
}

// DefaultDebounce coalesces rapid dimension edits before rules are applied.
const DefaultDebounce = 5 * time.Second

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Port:               8080,
		DBPath:             "material.db",
		LogMode:            "development",
		Debounce:           DefaultDebounce,
		AutoCalcDimensions: true,
		AllowedOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
		SessionIdleTimeout: 30 * time.Minute,
		ReapInterval:       time.Minute,
	}
}

// Load reads a YAML file on top of Defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db path is required")
	}
	if c.Debounce < 0 {
		return errors.New("debounce must not be negative")
	}
	if c.SessionIdleTimeout < 0 {
		return errors.New("session idle timeout must not be negative")
	}
	if c.SessionIdleTimeout > 0 && c.ReapInterval <= 0 {
		return errors.New("reap interval must be positive when sessions expire")
	}
	return nil
}
