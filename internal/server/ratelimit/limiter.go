// Package ratelimit limits HTTP requests and websocket upgrades per client.
package ratelimit

import (
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
	Reset(key string)
}

// Stoppable is a Limiter owning a background goroutine.
type Stoppable interface {
	Limiter
	Stop()
}

type Config struct {
	Enabled bool `yaml:"enabled"`
	// Requests allowed per Window; also the burst size.
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}
