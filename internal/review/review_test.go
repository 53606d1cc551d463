package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/rules"
)

type stubEvaluator struct {
	results []domain.RuleResult
	err     error
	input   *rules.EvaluateInput
}

func (s *stubEvaluator) EvaluateAll(ctx context.Context, input *rules.EvaluateInput) ([]domain.RuleResult, error) {
	s.input = input
	return s.results, s.err
}

func pass(id string, weight float64) domain.RuleResult {
	return domain.RuleResult{RuleID: id, Score: 0, SubRuleRef: domain.RuleOutcomePass, Reason: "ok", Weight: weight}
}

func flag(id string, weight float64, reason string) domain.RuleResult {
	return domain.RuleResult{RuleID: id, Score: 1, SubRuleRef: domain.RuleOutcomeReview, Reason: reason, Weight: weight}
}

func TestDecide(t *testing.T) {
	proc := NewProcessor(&stubEvaluator{}, domain.DefaultScoringConfig(), 0.5)

	t.Run("AllPass", func(t *testing.T) {
		r := proc.Decide([]domain.RuleResult{pass("a", 0.4), pass("b", 0.3), pass("c", 0.3)})
		assert.Equal(t, domain.ReviewClear, r.Status)
		assert.Equal(t, 0.0, r.Score)
		assert.Empty(t, r.Reasons)
		assert.Equal(t, 3, r.RulesEvaluated)
	})

	t.Run("BelowThresholdKeepsReasons", func(t *testing.T) {
		r := proc.Decide([]domain.RuleResult{flag("a", 0.4, "far"), pass("b", 0.3), pass("c", 0.3)})
		assert.Equal(t, domain.ReviewClear, r.Status)
		assert.InDelta(t, 0.4, r.Score, 1e-9)
		assert.Equal(t, []string{"far"}, r.Reasons)
	})

	t.Run("AtThresholdNeedsReview", func(t *testing.T) {
		r := proc.Decide([]domain.RuleResult{flag("a", 0.5, "far"), pass("b", 0.5)})
		assert.Equal(t, domain.ReviewRequired, r.Status)
		assert.InDelta(t, 0.5, r.Score, 1e-9)
	})

	t.Run("ErrorsExcluded", func(t *testing.T) {
		errResult := domain.RuleResult{RuleID: "broken", SubRuleRef: domain.RuleOutcomeError, Weight: 5}
		r := proc.Decide([]domain.RuleResult{flag("a", 1, "far"), errResult})
		assert.Equal(t, domain.ReviewRequired, r.Status)
		assert.Equal(t, 1, r.RulesEvaluated)
		assert.Contains(t, r.Reasons, "rule broken could not be evaluated")
	})

	t.Run("NoRules", func(t *testing.T) {
		r := proc.Decide(nil)
		assert.Equal(t, domain.ReviewClear, r.Status)
		assert.Equal(t, 0, r.RulesEvaluated)
	})

	t.Run("Unweighted", func(t *testing.T) {
		p := NewProcessor(&stubEvaluator{}, domain.DefaultScoringConfig(), 0.5)
		p.UseWeightedScoring = false
		r := p.Decide([]domain.RuleResult{flag("a", 0.1, "far"), pass("b", 0.9)})
		assert.Equal(t, domain.ReviewRequired, r.Status)
		assert.InDelta(t, 0.5, r.Score, 1e-9)
	})
}

func TestReview(t *testing.T) {
	ctx := context.Background()

	t.Run("PassesAssessmentThrough", func(t *testing.T) {
		eval := &stubEvaluator{results: []domain.RuleResult{flag("a", 1, "far")}}
		proc := NewProcessor(eval, domain.DefaultScoringConfig(), 0)
		a := &domain.CreditAssessment{Category: domain.CategoryB, CupoEstimated: 9000}

		r, err := proc.Review(ctx, "tok-1", a)
		require.NoError(t, err)
		assert.Equal(t, domain.ReviewRequired, r.Status)
		assert.Equal(t, "tok-1", eval.input.Token)
		assert.Same(t, a, eval.input.Assessment)
		assert.Equal(t, 50_000.0, eval.input.Scoring.MaxCap)
		assert.Equal(t, DefaultThreshold, proc.Threshold)
	})

	t.Run("EvaluatorError", func(t *testing.T) {
		proc := NewProcessor(&stubEvaluator{err: errors.New("boom")}, domain.DefaultScoringConfig(), 0.5)
		_, err := proc.Review(ctx, "tok-1", &domain.CreditAssessment{})
		assert.Error(t, err)
	})

	t.Run("NilAssessment", func(t *testing.T) {
		proc := NewProcessor(&stubEvaluator{}, domain.DefaultScoringConfig(), 0.5)
		_, err := proc.Review(ctx, "tok-1", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("BuiltinRulesNeverAlterAssessment", func(t *testing.T) {
		engine, err := rules.NewEngine(4)
		require.NoError(t, err)
		require.NoError(t, engine.LoadRules(rules.BuiltinRules()))

		d := 75.0
		a := &domain.CreditAssessment{
			Category:      domain.CategoryC,
			ScoreConf:     0.55,
			RiskPct:       45,
			CupoEstimated: 800,
			RawCupo:       300,
			Features:      domain.NormalizedFeatures{KnowBuyer: 0.5, DistanceRaw: &d},
		}
		before := *a

		proc := NewProcessor(engine, domain.DefaultScoringConfig(), 0.5)
		r, err := proc.Review(ctx, "tok-2", a)
		require.NoError(t, err)

		// far-customer (0.4) and floor-applied (0.3) fire.
		assert.Equal(t, domain.ReviewRequired, r.Status)
		assert.InDelta(t, 0.7, r.Score, 1e-9)
		assert.Len(t, r.Reasons, 2)
		assert.Equal(t, before, *a)
	})
}
