package domain

import "time"

// Config holds the complete vecina configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server" yaml:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier" mapstructure:"tier" yaml:"tier"`

	// Transaction lifecycle
	Coordinator CoordinatorConfig `json:"coordinator" mapstructure:"coordinator" yaml:"coordinator"`

	// Credit model parameters
	Scoring ScoringConfig `json:"scoring" mapstructure:"scoring" yaml:"scoring"`

	// Component configurations
	Store      StoreConfig      `json:"store" mapstructure:"store" yaml:"store"`
	Repository RepositoryConfig `json:"repository" mapstructure:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus" yaml:"event_bus"`
	Velocity   VelocityConfig   `json:"velocity" mapstructure:"velocity" yaml:"velocity"`
	Rules      RulesConfig      `json:"rules" mapstructure:"rules" yaml:"rules"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host" yaml:"host"`
	Port         int    `json:"port" mapstructure:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout" yaml:"read_timeout"`    // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout" yaml:"write_timeout"` // seconds
}

// CoordinatorConfig holds transaction lifecycle settings.
type CoordinatorConfig struct {
	// TTL is the fixed lifetime of a transaction from creation.
	TTL time.Duration `json:"ttl" mapstructure:"ttl" yaml:"ttl"`

	// QRBaseURL is the WhatsApp deep link; the token is appended to it.
	QRBaseURL string `json:"qrBaseUrl" mapstructure:"qr_base_url" yaml:"qr_base_url"`
}

// VelocityConfig limits how many transactions a store may initiate per window.
type VelocityConfig struct {
	MaxPerStore int           `json:"maxPerStore" mapstructure:"max_per_store" yaml:"max_per_store"` // 0 disables
	Window      time.Duration `json:"window" mapstructure:"window" yaml:"window"`
}

// RulesConfig controls the post-assessment review rules.
type RulesConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled" yaml:"enabled"`

	// Builtin loads the default review rules at startup.
	Builtin bool `json:"builtin" mapstructure:"builtin" yaml:"builtin"`

	// ReviewThreshold is the weighted review score at or above which a REVIEW is raised.
	ReviewThreshold float64 `json:"reviewThreshold" mapstructure:"review_threshold" yaml:"review_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level" yaml:"level"`    // debug, info, warn, error
	Format string `json:"format" mapstructure:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name" yaml:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-memory stores and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultQRBaseURL is the WhatsApp link customers scan to start an application.
const DefaultQRBaseURL = "https://wa.me/573001234567?text=Hola%20quiero%20solicitar%20credito%20token:"

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Coordinator: CoordinatorConfig{
			TTL:       15 * time.Minute,
			QRBaseURL: DefaultQRBaseURL,
		},
		Scoring: DefaultScoringConfig(),
		Store: StoreConfig{
			Type:          "memory",
			Retention:     24 * time.Hour,
			UpdateRetries: 10,
		},
		Repository: RepositoryConfig{
			Driver:        "sqlite",
			SQLitePath:    "./vecina.db",
			UpdateRetries: 10,
		},
		Cache: CacheConfig{
			Type:            "memory",
			LocalMaxSize:    10000,
			LocalTTL:        5 * time.Minute,
			RegistrationTTL: time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Velocity: VelocityConfig{
			MaxPerStore: 120,
			Window:      time.Hour,
		},
		Rules: RulesConfig{
			Enabled:         true,
			Builtin:         true,
			ReviewThreshold: 0.5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "vecina",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Store = StoreConfig{
		Type:          "sql",
		Retention:     24 * time.Hour,
		UpdateRetries: 10,
	}
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresUser:    "vecina",
		PostgresDB:      "vecina",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		UpdateRetries:   10,
	}
	cfg.Cache = CacheConfig{
		Type:            "redis",
		RedisAddr:       "localhost:6379",
		EnableTwoPhase:  true,
		LocalMaxSize:    1000,
		LocalTTL:        time.Minute,
		RegistrationTTL: time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "vecina-audit",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
