package rules

import "github.com/opensource-finance/vecina/internal/domain"

// Built-in rule IDs.
const (
	RuleFarCustomer      = "far-customer"
	RuleFloorApplied     = "floor-applied"
	RuleThinRelationship = "thin-relationship"
)

// BuiltinRules returns the default review rules. Each one scores 1 when the
// assessment deserves a second look.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          RuleFarCustomer,
			Name:        "Far customer",
			Description: "Customer lives beyond the distance alert",
			Version:     "1.0.0",
			Expression:  "has_distance && distance_km > distance_alert",
			Bands:       flagBands("customer lives far from the store"),
			Weight:      0.4,
			Enabled:     true,
		},
		{
			ID:          RuleFloorApplied,
			Name:        "Floor applied",
			Description: "Granted cupo comes from the minimum floor, not the estimate",
			Version:     "1.0.0",
			Expression:  "cupo > raw_cupo",
			Bands:       flagBands("cupo raised to the minimum floor"),
			Weight:      0.3,
			Enabled:     true,
		},
		{
			ID:          RuleThinRelationship,
			Name:        "Thin relationship",
			Description: "Shopkeeper barely knows the customer but a cupo above the floor was granted",
			Version:     "1.0.0",
			Expression:  `f["know_buyer"] < 0.4 && cupo > min_cupo`,
			Bands:       flagBands("shopkeeper barely knows the customer"),
			Weight:      0.3,
			Enabled:     true,
		},
	}
}

// flagBands maps a boolean rule: 0 passes, 1 asks for review.
func flagBands(reason string) []domain.RuleBand {
	zero, one := 0.0, 1.0
	return []domain.RuleBand{
		{LowerLimit: &zero, UpperLimit: &one, SubRuleRef: domain.RuleOutcomePass, Reason: "ok"},
		{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: reason},
	}
}
