package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds scan settings that can be loaded from a YAML file.
// Zero-valued fields fall back to the defaults from DefaultConfig.
type Config struct {
	Database       string `yaml:"database,omitempty"`        // inventory database path
	Dex2jar        string `yaml:"dex2jar,omitempty"`         // dex2jar executable name or path
	WorkDir        string `yaml:"work_dir,omitempty"`        // scratch directory root
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"` // per-package conversion timeout
}

// DefaultConfig returns the built-in scan settings.
func DefaultConfig() Config {
	return Config{
		Database:       "results.sqlite",
		Dex2jar:        "dex2jar",
		WorkDir:        os.TempDir(),
		TimeoutSeconds: 60,
	}
}

// Timeout returns the conversion timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// withDefaults fills any zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.Dex2jar == "" {
		c.Dex2jar = defaults.Dex2jar
	}
	if c.WorkDir == "" {
		c.WorkDir = defaults.WorkDir
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaults.TimeoutSeconds
	}
	return c
}

// LoadConfig reads a YAML config file and merges it over the defaults.
// Unknown fields are rejected so typos fail loudly instead of being ignored.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		// An empty file decodes to EOF, which counts as an empty config.
		if !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg.withDefaults(), nil
}

// validateConfig checks config fields for values the scanner cannot use.
func validateConfig(cfg Config) error {
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative, got %d", cfg.TimeoutSeconds)
	}
	return nil
}
