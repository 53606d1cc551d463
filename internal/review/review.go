// Package review aggregates rule results into an advisory verdict on a
// completed credit assessment.
package review

import (
	"context"
	"fmt"

	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/rules"
	"github.com/opensource-finance/vecina/internal/scoring"
)

// DefaultThreshold is the aggregate score at which an assessment needs review.
const DefaultThreshold = 0.5

// Evaluator runs a rule set over an assessment.
type Evaluator interface {
	EvaluateAll(ctx context.Context, input *rules.EvaluateInput) ([]domain.RuleResult, error)
}

// Processor aggregates rule results and produces a review.
type Processor struct {
	evaluator Evaluator
	scoring   domain.ScoringConfig

	// Threshold at or above which the review status is REVIEW
	Threshold float64

	// Weight configuration for rule aggregation
	UseWeightedScoring bool
}

// NewProcessor creates a processor with default settings.
func NewProcessor(evaluator Evaluator, scoringCfg domain.ScoringConfig, threshold float64) *Processor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Processor{
		evaluator:          evaluator,
		scoring:            scoringCfg,
		Threshold:          threshold,
		UseWeightedScoring: true,
	}
}

// Review evaluates the loaded rules and aggregates them. The assessment is only read.
func (p *Processor) Review(ctx context.Context, token string, assessment *domain.CreditAssessment) (*domain.Review, error) {
	if assessment == nil {
		return nil, fmt.Errorf("%w: assessment is required", domain.ErrInvalidInput)
	}

	results, err := p.evaluator.EvaluateAll(ctx, &rules.EvaluateInput{
		Token:      token,
		Assessment: assessment,
		Scoring:    p.scoring,
	})
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}

	return p.Decide(results), nil
}

// Decide turns rule results into a review.
func (p *Processor) Decide(results []domain.RuleResult) *domain.Review {
	agg := p.aggregate(results)

	status := domain.ReviewClear
	if agg.RulesEvaluated > 0 && agg.AggregateScore >= p.Threshold {
		status = domain.ReviewRequired
	}

	return &domain.Review{
		Status:         status,
		Score:          scoring.Round(agg.AggregateScore, 4),
		Reasons:        Reasons(results),
		RulesEvaluated: agg.RulesEvaluated,
	}
}

// AggregateResult holds the aggregated scoring results.
type AggregateResult struct {
	AggregateScore float64
	TotalWeight    float64
	RulesTriggered int
	RulesEvaluated int
}

// aggregate computes the weighted aggregate score from rule results.
// Rules that failed to evaluate do not count toward the aggregate.
func (p *Processor) aggregate(results []domain.RuleResult) *AggregateResult {
	agg := &AggregateResult{}

	for _, r := range results {
		if r.SubRuleRef == domain.RuleOutcomeError {
			continue
		}
		agg.RulesEvaluated++

		weight := r.Weight
		if weight <= 0 || !p.UseWeightedScoring {
			weight = 1.0
		}

		if r.SubRuleRef == domain.RuleOutcomeReview {
			agg.RulesTriggered++
		}

		agg.AggregateScore += r.Score * weight
		agg.TotalWeight += weight
	}

	if agg.TotalWeight > 0 {
		agg.AggregateScore = agg.AggregateScore / agg.TotalWeight
	}

	return agg
}

// Reasons extracts human-readable reasons from triggered and failed rules.
func Reasons(results []domain.RuleResult) []string {
	var reasons []string
	for _, r := range results {
		switch r.SubRuleRef {
		case domain.RuleOutcomeReview:
			if r.Reason != "" {
				reasons = append(reasons, r.Reason)
			}
		case domain.RuleOutcomeError:
			reasons = append(reasons, fmt.Sprintf("rule %s could not be evaluated", r.RuleID))
		}
	}
	return reasons
}
