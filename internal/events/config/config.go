package config

import (
	"fmt"
	"os"
)

type Config struct {
	// Enabled turns on publishing of collection events to NATS.
	Enabled bool   `yaml:"enabled"`
	NatsURL string `yaml:"nats_url"`
	// SubjectPrefix is prepended to <collection>.<event>.
	SubjectPrefix string `yaml:"subject_prefix"`
	// Stream, when set, publishes through JetStream into this stream.
	Stream     string `yaml:"stream"`
	BufferSize int    `yaml:"buffer_size"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		NatsURL:       "nats://localhost:4222",
		SubjectPrefix: "livesync",
		BufferSize:    1024,
	}
}

func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.NatsURL == "" {
		c.NatsURL = defaults.NatsURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaults.SubjectPrefix
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaults.BufferSize
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVESYNC_NATS_URL"); val != "" {
		c.NatsURL = val
	}
}

func (c *Config) ResolvePaths(configDir string) {}

func (c *Config) Validate() error {
	if c.Enabled && c.NatsURL == "" {
		return fmt.Errorf("events.nats_url is required when events are enabled")
	}
	return nil
}
