// Package store provides transaction stores with per-token atomic updates.
package store

import (
	"fmt"

	"github.com/opensource-finance/vecina/internal/domain"
)

// New creates a transaction store based on configuration.
// For Community tier: returns an in-memory store.
// "sql" reuses the repository, which implements compare-and-swap updates.
// "redis" returns a store shared by every API replica.
func New(cfg domain.StoreConfig, repo domain.Repository) (domain.TransactionStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil

	case "sql":
		if repo == nil {
			return nil, fmt.Errorf("sql store requires a repository")
		}
		return repo, nil

	case "redis":
		return NewRedisStore(cfg)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
