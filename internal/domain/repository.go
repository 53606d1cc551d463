// Package domain defines the core interfaces and types for vecina.
package domain

import (
	"context"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// UpdateFunc mutates a private copy of a transaction inside an atomic update.
// Returning an error aborts the update and nothing is stored.
type UpdateFunc func(tx *Transaction) error

// TransactionStore persists transactions keyed by token.
// UpdateTransaction must be atomic per token: concurrent updates of the same
// token are serialized and each fn observes the result of the previous one.
type TransactionStore interface {
	GetTransaction(ctx context.Context, token string) (*Transaction, error)
	PutTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransaction(ctx context.Context, token string, fn UpdateFunc) (*Transaction, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	TransactionStore

	// Audit trail
	SaveAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, token string) ([]*AuditEvent, error)

	// Credit registrations
	SaveRegistration(ctx context.Context, reg *CreditRegistration) error
	GetRegistration(ctx context.Context, token string) (*CreditRegistration, error)

	// Review rule configuration
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user" yaml:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password" yaml:"-"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgres_db" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgres_sslmode" yaml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	// UpdateRetries bounds compare-and-swap retries on transaction updates.
	UpdateRetries int `json:"updateRetries" mapstructure:"update_retries" yaml:"update_retries"`
}

// StoreConfig selects the transaction store backend.
type StoreConfig struct {
	// Type is "memory", "sql" or "redis"
	Type string `json:"type" mapstructure:"type" yaml:"type"`

	RedisAddr     string `json:"redisAddr" mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"-" mapstructure:"redis_password" yaml:"-"`
	RedisDB       int    `json:"redisDb" mapstructure:"redis_db" yaml:"redis_db"`

	// Retention is how long a transaction is kept by stores with native expiry (redis).
	Retention time.Duration `json:"retention" mapstructure:"retention" yaml:"retention"`

	// UpdateRetries bounds optimistic retries on contended updates.
	UpdateRetries int `json:"updateRetries" mapstructure:"update_retries" yaml:"update_retries"`
}
