package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	events "livesync/internal/events/config"
	identity "livesync/internal/identity/config"
	live "livesync/internal/liveview/config"
	realtime "livesync/internal/realtime/config"
	"livesync/internal/server"
	storage "livesync/internal/storage/config"
)

// Config holds the application configuration
type Config struct {
	Server   server.Config   `yaml:"server"`
	Realtime realtime.Config `yaml:"realtime"`
	Live     live.Config     `yaml:"live"`

	Storage  storage.Config  `yaml:"storage"`
	Identity identity.Config `yaml:"identity"`
	Events   events.Config   `yaml:"events"`
	Schema   SchemaConfig    `yaml:"schema"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// SchemaConfig points at the collection schema file.
type SchemaConfig struct {
	Path string `yaml:"path"`
}

func (c *SchemaConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "schema.yml"
	}
}

func (c *SchemaConfig) ApplyEnvOverrides() {
	if val := os.Getenv("LIVESYNC_SCHEMA"); val != "" {
		c.Path = val
	}
}

func (c *SchemaConfig) ResolvePaths(configDir string) {
	if c.Path != "" && !filepath.IsAbs(c.Path) {
		c.Path = filepath.Join(configDir, c.Path)
	}
}

func (c *SchemaConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("schema.path is required")
	}
	return nil
}

// Default returns the configuration before any file is read.
func Default() *Config {
	return &Config{
		Server:   server.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
		Live:     live.DefaultConfig(),
		Storage:  storage.DefaultConfig(),
		Identity: identity.DefaultConfig(),
		Events:   events.DefaultConfig(),
		Schema:   SchemaConfig{Path: "schema.yml"},
		Logging:  DefaultLoggingConfig(),
	}
}

// Load reads configDir/config.yml then configDir/config.local.yml over the
// defaults, and runs every section through ApplyServiceConfigs. Missing
// files are skipped.
func Load(configDir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyServiceConfigs(configDir,
		&cfg.Server,
		&cfg.Realtime,
		&cfg.Live,
		&cfg.Storage,
		&cfg.Identity,
		&cfg.Events,
		&cfg.Schema,
		&cfg.Logging,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// LoadConfig loads from the "config" directory and exits on error.
func LoadConfig() *Config {
	cfg, err := Load("config")
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
