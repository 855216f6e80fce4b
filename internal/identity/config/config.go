package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Secret is the HMAC key tokens are signed with.
	Secret string `yaml:"secret"`
	// Required rejects connections that present no token.
	Required bool `yaml:"required"`
	// AnonymousLevel is the privilege level of callers without a token.
	AnonymousLevel int           `yaml:"anonymous_level"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

func DefaultConfig() Config {
	return Config{
		Required:       false,
		AnonymousLevel: 0,
		TokenTTL:       time.Hour,
	}
}

func (c *Config) ApplyDefaults() {
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVESYNC_JWT_SECRET"); val != "" {
		c.Secret = val
	}
	if val := os.Getenv("LIVESYNC_AUTH_REQUIRED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Required = b
		}
	}
}

func (c *Config) ResolvePaths(configDir string) {}

func (c *Config) Validate() error {
	if c.Required && c.Secret == "" {
		return fmt.Errorf("identity.secret is required when identity.required is true")
	}
	if c.AnonymousLevel < 0 {
		return fmt.Errorf("identity.anonymous_level must not be negative")
	}
	return nil
}
