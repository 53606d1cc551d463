// Package config loads vecina configuration from defaults, an optional YAML
// file and VECINA_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/vecina/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. VECINA_SERVER_PORT.
const EnvPrefix = "VECINA"

// secretKeys never appear in dumped YAML, so they are bound to the
// environment explicitly.
var secretKeys = []string{
	"store.redis_password",
	"repository.postgres_password",
	"cache.redis_password",
	"event_bus.nats_token",
}

// Load builds the configuration. VECINA_TIER=pro starts from the Pro
// defaults instead of the Community ones. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	base := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"_TIER"), string(domain.TierPro)) {
		base = domain.ProConfig()
	}

	v, err := newViper(base)
	if err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper seeds a viper instance with every key of base so that
// environment overrides resolve for all of them.
func newViper(base *domain.Config) (*viper.Viper, error) {
	defaults, err := yaml.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return v, nil
}

// Validate rejects configurations the services cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Coordinator.TTL <= 0 {
		errs = append(errs, fmt.Errorf("coordinator.ttl must be positive"))
	}
	if cfg.Velocity.MaxPerStore < 0 {
		errs = append(errs, fmt.Errorf("velocity.max_per_store must not be negative"))
	}
	if cfg.Rules.ReviewThreshold < 0 || cfg.Rules.ReviewThreshold > 1 {
		errs = append(errs, fmt.Errorf("rules.review_threshold must be within [0, 1]"))
	}
	if err := cfg.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Dump renders cfg as YAML. Secrets are omitted.
func Dump(cfg *domain.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
