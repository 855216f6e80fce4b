package config

import (
	"fmt"
	"os"
	"time"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

type Config struct {
	// Backend selects the document store: "memory" or "mongo".
	Backend string      `yaml:"backend"`
	Mongo   MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri"`
	DatabaseName   string        `yaml:"database_name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			DatabaseName:   "livesync",
			ConnectTimeout: 10 * time.Second,
		},
	}
}

func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = defaults.Mongo.ConnectTimeout
	}
}

// ApplyEnvOverrides lets LIVESYNC_MONGO_URI select the mongo backend.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVESYNC_MONGO_URI"); val != "" {
		c.Backend = BackendMongo
		c.Mongo.URI = val
	}
	if val := os.Getenv("LIVESYNC_MONGO_DB"); val != "" {
		c.Mongo.DatabaseName = val
	}
}

func (c *Config) ResolvePaths(configDir string) {}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri is required for the mongo backend")
		}
		if c.Mongo.DatabaseName == "" {
			return fmt.Errorf("storage.mongo.database_name is required for the mongo backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q (must be memory or mongo)", c.Backend)
	}
}
