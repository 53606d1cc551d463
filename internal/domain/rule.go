package domain

// RuleConfig defines a review rule evaluated over a completed assessment.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Outcome bands for score-to-decision mapping
	Bands []RuleBand `json:"bands"`

	// Rule weight in the review aggregate
	Weight float64 `json:"weight"`

	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // ".pass", ".review"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	Token      string  `json:"token"`
	SubRuleRef string  `json:"subRuleRef"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)

// Review is the advisory verdict attached next to an assessment. It never
// changes the assessment itself.
type Review struct {
	Status         string   `json:"status"`
	Score          float64  `json:"score"`
	Reasons        []string `json:"reasons,omitempty"`
	RulesEvaluated int      `json:"rules_evaluated"`
}

// Review statuses
const (
	ReviewClear    = "CLEAR"
	ReviewRequired = "REVIEW"
)
