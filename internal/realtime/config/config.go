package config

import (
	"fmt"
	"time"
)

type Config struct {
	// SendBuffer is the number of outbound messages queued per connection.
	// A connection whose queue is full is closed.
	SendBuffer     int           `yaml:"send_buffer"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteWait      time.Duration `yaml:"write_wait"`
	PongWait       time.Duration `yaml:"pong_wait"`
	// RequestTimeout bounds the store calls of one request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func DefaultConfig() Config {
	return Config{
		SendBuffer:     1024,
		MaxMessageSize: 1 << 20,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaults.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaults.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaults.PongWait
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(configDir string) {}

func (c *Config) Validate() error {
	if c.PongWait <= c.WriteWait {
		return fmt.Errorf("realtime.pong_wait (%s) must exceed realtime.write_wait (%s)", c.PongWait, c.WriteWait)
	}
	return nil
}

// PingPeriod is how often the server pings an idle connection.
func (c *Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}
