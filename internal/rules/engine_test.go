package rules

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opensource-finance/vecina/internal/domain"
)

// assessmentFixture returns a category B assessment for a nearby, well-known customer.
func assessmentFixture() *domain.CreditAssessment {
	distance := 1.5
	return &domain.CreditAssessment{
		Category:      domain.CategoryB,
		ScoreConf:     0.78,
		RiskPct:       22,
		CupoEstimated: 9500,
		RawCupo:       9500,
		ClientsPerDay: 20,
		Features: domain.NormalizedFeatures{
			KnowBuyer:       0.75,
			BuyFreq:         0.8,
			AvgPurchase:     0.6,
			PsychOrganized:  0.75,
			PsychPlan:       0.5,
			Distance:        0.85,
			AddressVerified: 1,
			AvgPurchaseRaw:  25000,
			DistanceRaw:     &distance,
		},
	}
}

func newInput(a *domain.CreditAssessment) *EvaluateInput {
	return &EvaluateInput{Token: "tok-001", Assessment: a, Scoring: domain.DefaultScoringConfig()}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.RuleConfig{
		ID:         "high-cupo",
		Name:       "High cupo",
		Expression: "cupo > 20000.0",
		Weight:     1.0,
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	tests := []struct {
		name string
		rule *domain.RuleConfig
	}{
		{"Syntax", &domain.RuleConfig{ID: "bad", Expression: "this is not valid CEL !!!"}},
		{"UnknownVariable", &domain.RuleConfig{ID: "bad", Expression: "amount > 100.0"}},
		{"StringOutput", &domain.RuleConfig{ID: "bad", Expression: "category"}},
		{"MissingID", &domain.RuleConfig{Expression: "score > 0.5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateRule(tt.rule)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("validation must not load rules, got %d", engine.RulesCount())
	}
}

func TestEvaluateBandedRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	zero, half, one := 0.0, 0.5, 1.0

	rule := &domain.RuleConfig{
		ID:         "risk-band",
		Expression: "risk_pct >= 50.0 ? 1.0 : (risk_pct >= 30.0 ? 0.5 : 0.0)",
		Bands: []domain.RuleBand{
			{LowerLimit: &zero, UpperLimit: &half, SubRuleRef: domain.RuleOutcomePass, Reason: "low risk"},
			{LowerLimit: &half, UpperLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: "moderate risk"},
			{LowerLimit: &one, SubRuleRef: domain.RuleOutcomeReview, Reason: "high risk"},
		},
		Weight:  1.0,
		Enabled: true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	ctx := context.Background()
	tests := []struct {
		risk   float64
		score  float64
		ref    string
		reason string
	}{
		{22, 0.0, domain.RuleOutcomePass, "low risk"},
		{35, 0.5, domain.RuleOutcomeReview, "moderate risk"},
		{80, 1.0, domain.RuleOutcomeReview, "high risk"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("risk=%.0f", tt.risk), func(t *testing.T) {
			a := assessmentFixture()
			a.RiskPct = tt.risk

			results, err := engine.EvaluateAll(ctx, newInput(a))
			if err != nil {
				t.Fatalf("evaluation failed: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(results))
			}
			if results[0].Score != tt.score {
				t.Errorf("expected score %.1f, got %.1f", tt.score, results[0].Score)
			}
			if results[0].SubRuleRef != tt.ref || results[0].Reason != tt.reason {
				t.Errorf("expected %s/%s, got %s/%s", tt.ref, tt.reason, results[0].SubRuleRef, results[0].Reason)
			}
		})
	}
}

func TestActivationVariables(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "vars",
		Expression: `category == "B" && clients_per_day == 20 && avg_purchase == 25000.0 && address_verified && f["distance"] > 0.8 && max_cap == 50000.0`,
		Enabled:    true,
	})

	results, err := engine.EvaluateAll(context.Background(), newInput(assessmentFixture()))
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results[0].Score != 1.0 {
		t.Errorf("expected every variable to match, got %+v", results[0])
	}
}

func TestMissingDistance(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{ID: "absent", Expression: "!has_distance && distance_km == -1.0", Enabled: true})

	a := assessmentFixture()
	a.Features.DistanceRaw = nil

	results, _ := engine.EvaluateAll(context.Background(), newInput(a))
	if results[0].Score != 1.0 {
		t.Errorf("expected absent distance to read as -1, got %+v", results[0])
	}
}

func TestEvaluateRequiresAssessment(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if _, err := engine.EvaluateAll(context.Background(), &EvaluateInput{Token: "t"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParallelExecution(t *testing.T) {
	engine, _ := NewEngine(3)
	defer engine.Close()

	for i := 0; i < 10; i++ {
		engine.LoadRule(&domain.RuleConfig{
			ID:         fmt.Sprintf("rule-%02d", i),
			Expression: "score > 0.0",
			Weight:     1.0,
			Enabled:    true,
		})
	}

	if engine.RulesCount() != 10 {
		t.Fatalf("expected 10 rules, got %d", engine.RulesCount())
	}

	results, err := engine.EvaluateAll(context.Background(), newInput(assessmentFixture()))
	if err != nil {
		t.Fatalf("parallel evaluation failed: %v", err)
	}

	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}

	for i, r := range results {
		if r.RuleID != fmt.Sprintf("rule-%02d", i) {
			t.Errorf("expected results ordered by rule ID, got %s at %d", r.RuleID, i)
		}
		if r.Score != 1.0 {
			t.Errorf("rule %d: expected score 1.0, got %.2f", i, r.Score)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	engine, _ := NewEngine(1)
	defer engine.Close()

	for i := 0; i < 3; i++ {
		engine.LoadRule(&domain.RuleConfig{ID: fmt.Sprintf("r%d", i), Expression: "true", Enabled: true})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := engine.EvaluateAll(ctx, newInput(assessmentFixture()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected a result per rule, got %d", len(results))
	}
	for _, r := range results {
		if r.RuleID == "" {
			t.Errorf("expected every slot filled, got %+v", r)
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	if err := engine.ReloadRules(BuiltinRules()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 3 {
		t.Fatalf("expected 3 builtin rules, got %d", engine.RulesCount())
	}

	t.Run("KeepsPreviousOnError", func(t *testing.T) {
		err := engine.ReloadRules([]*domain.RuleConfig{{ID: "broken", Expression: "((", Enabled: true}})
		if err == nil {
			t.Fatal("expected compile error")
		}
		if engine.RulesCount() != 3 {
			t.Errorf("expected previous rules kept, got %d", engine.RulesCount())
		}
	})

	t.Run("SkipsDisabled", func(t *testing.T) {
		err := engine.ReloadRules([]*domain.RuleConfig{
			{ID: "on", Expression: "true", Enabled: true},
			{ID: "off", Expression: "true", Enabled: false},
		})
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		loaded := engine.GetLoadedRules()
		if len(loaded) != 1 || loaded[0].ID != "on" {
			t.Errorf("expected only the enabled rule, got %+v", loaded)
		}
	})
}

func TestRuleResultMetadata(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	engine.LoadRule(&domain.RuleConfig{
		ID:         "meta-test",
		Expression: "score > 0.0",
		Weight:     0.75,
		Enabled:    true,
	})

	results, _ := engine.EvaluateAll(context.Background(), newInput(assessmentFixture()))

	if results[0].RuleID != "meta-test" {
		t.Errorf("expected RuleID 'meta-test', got '%s'", results[0].RuleID)
	}
	if results[0].Token != "tok-001" {
		t.Errorf("expected Token 'tok-001', got '%s'", results[0].Token)
	}
	if results[0].Weight != 0.75 {
		t.Errorf("expected Weight 0.75, got %.2f", results[0].Weight)
	}
	if results[0].ProcessMs < 0 {
		t.Error("ProcessMs should be non-negative")
	}
}
