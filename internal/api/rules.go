package api

import (
	"context"
	"fmt"

	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/rules"
)

// RuleSource lists stored rules.
type RuleSource interface {
	ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error)
}

// ReloadRules replaces the engine's rules with base followed by stored rules.
// A stored rule with the same ID as a base rule overrides it.
func ReloadRules(ctx context.Context, engine *rules.Engine, src RuleSource, base []*domain.RuleConfig) (int, error) {
	stored, err := src.ListRuleConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}

	byID := make(map[string]int, len(base)+len(stored))
	merged := make([]*domain.RuleConfig, 0, len(base)+len(stored))
	for _, rule := range append(append([]*domain.RuleConfig{}, base...), stored...) {
		if i, ok := byID[rule.ID]; ok {
			merged[i] = rule
			continue
		}
		byID[rule.ID] = len(merged)
		merged = append(merged, rule)
	}

	if err := engine.ReloadRules(merged); err != nil {
		return 0, err
	}
	return engine.RulesCount(), nil
}
