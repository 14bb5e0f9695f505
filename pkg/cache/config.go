package cache

import "time"

const (
	// DefaultTTL is how long a rendered response stays valid.
	DefaultTTL = 30 * time.Second
	// DefaultMaxSize is the number of responses kept per cache.
	DefaultMaxSize = 256
)

// Config holds configuration for the response cache.
type Config struct {
	// Enabled controls whether caching is active. When false the manager is
	// nil and every request reaches the handlers.
	Enabled bool

	// TTL bounds how stale a cached response may be when a write bypasses
	// the store's change hook.
	TTL time.Duration

	// MaxSize is the maximum number of entries per cache.
	MaxSize int
}

// DefaultConfig returns a Config with caching enabled.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		TTL:     DefaultTTL,
		MaxSize: DefaultMaxSize,
	}
}
