package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the live query engine configuration.
type Config struct {
	// MaxAttachments is the per-connection ceiling on live attachments.
	MaxAttachments int `yaml:"max_attachments"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttachments: 100,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxAttachments == 0 {
		c.MaxAttachments = d.MaxAttachments
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVESYNC_MAX_ATTACHMENTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MaxAttachments = n
		}
	}
}

// ResolvePaths is a no-op, the section has no paths.
func (c *Config) ResolvePaths(_ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.MaxAttachments <= 0 {
		return fmt.Errorf("live.max_attachments must be positive")
	}
	return nil
}
