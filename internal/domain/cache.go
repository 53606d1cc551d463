package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetRegistration retrieves a cached credit registration.
	GetRegistration(ctx context.Context, token string) (*CreditRegistration, error)

	// SetRegistration caches a credit registration. Registrations never change.
	SetRegistration(ctx context.Context, reg *CreditRegistration, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-store initiation velocity.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" mapstructure:"type" yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" mapstructure:"local_max_size" yaml:"local_max_size"`
	LocalTTL     time.Duration `json:"localTtl" mapstructure:"local_ttl" yaml:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"-" mapstructure:"redis_password" yaml:"-"`
	RedisDB       int    `json:"redisDb" mapstructure:"redis_db" yaml:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" mapstructure:"enable_two_phase" yaml:"enable_two_phase"`

	// RegistrationTTL is how long registrations stay cached.
	RegistrationTTL time.Duration `json:"registrationTtl" mapstructure:"registration_ttl" yaml:"registration_ttl"`
}
