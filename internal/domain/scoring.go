package domain

import (
	"fmt"
	"math"
	"strings"
)

// ScoringConfig holds the hand-tuned parameters of the credit heuristic.
// A config value is never mutated after load; a new model version is a new config.
type ScoringConfig struct {
	Version string `json:"version" mapstructure:"version" yaml:"version"`

	// MaxCap is the credit ceiling in currency units.
	MaxCap float64 `json:"maxCap" mapstructure:"max_cap" yaml:"max_cap"`

	// DistanceThreshold is the distance (km) at which the proximity feature reaches 0.
	DistanceThreshold float64 `json:"distanceThreshold" mapstructure:"distance_threshold" yaml:"distance_threshold"`

	// DistanceAlert is the distance (km) beyond which the score is penalized.
	DistanceAlert float64 `json:"distanceAlert" mapstructure:"distance_alert" yaml:"distance_alert"`

	Weights ScoringWeights `json:"weights" mapstructure:"weights" yaml:"weights"`

	// CategoryThresholds are the descending cut points for A, B, C and D.
	// Anything below the last one is E.
	CategoryThresholds [4]float64 `json:"categoryThresholds" mapstructure:"category_thresholds" yaml:"category_thresholds"`

	// Log-normalization bounds for the average purchase.
	AvgPurchaseMin float64 `json:"avgPurchaseMin" mapstructure:"avg_purchase_min" yaml:"avg_purchase_min"`
	AvgPurchaseMax float64 `json:"avgPurchaseMax" mapstructure:"avg_purchase_max" yaml:"avg_purchase_max"`

	SegmentMultiplier float64 `json:"segmentMultiplier" mapstructure:"segment_multiplier" yaml:"segment_multiplier"`
	PrudenceFactor    float64 `json:"prudenceFactor" mapstructure:"prudence_factor" yaml:"prudence_factor"`
	IncomePrudence    float64 `json:"incomePrudence" mapstructure:"income_prudence" yaml:"income_prudence"`
	BaseDaysIncome    float64 `json:"baseDaysIncome" mapstructure:"base_days_income" yaml:"base_days_income"`

	// MinCupoAllowed is the floor granted to category C and above.
	MinCupoAllowed float64 `json:"minCupoAllowed" mapstructure:"min_cupo_allowed" yaml:"min_cupo_allowed"`
}

// ScoringWeights are the per-feature weights of the trust score.
type ScoringWeights struct {
	KnowBuyer       float64 `json:"knowBuyer" mapstructure:"know_buyer" yaml:"know_buyer"`
	BuyFreq         float64 `json:"buyFreq" mapstructure:"buy_freq" yaml:"buy_freq"`
	AvgPurchase     float64 `json:"avgPurchase" mapstructure:"avg_purchase" yaml:"avg_purchase"`
	PsychOrganized  float64 `json:"psychOrganized" mapstructure:"psych_organized" yaml:"psych_organized"`
	PsychPlan       float64 `json:"psychPlan" mapstructure:"psych_plan" yaml:"psych_plan"`
	Distance        float64 `json:"distance" mapstructure:"distance" yaml:"distance"`
	AddressVerified float64 `json:"addressVerified" mapstructure:"address_verified" yaml:"address_verified"`
}

// Sum returns the total of all weights.
func (w ScoringWeights) Sum() float64 {
	return w.KnowBuyer + w.BuyFreq + w.AvgPurchase +
		w.PsychOrganized + w.PsychPlan + w.Distance + w.AddressVerified
}

// DefaultScoringConfig returns the Micro v2 model parameters.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Version:           "micro-v2",
		MaxCap:            50_000,
		DistanceThreshold: 10.0,
		DistanceAlert:     50.0,
		Weights: ScoringWeights{
			KnowBuyer:       0.18,
			BuyFreq:         0.20,
			AvgPurchase:     0.18,
			PsychOrganized:  0.12,
			PsychPlan:       0.12,
			Distance:        0.12,
			AddressVerified: 0.08,
		},
		CategoryThresholds: [4]float64{0.85, 0.70, 0.50, 0.30},
		AvgPurchaseMin:     1_000,
		AvgPurchaseMax:     200_000,
		SegmentMultiplier:  1.0,
		PrudenceFactor:     0.65,
		IncomePrudence:     0.18,
		BaseDaysIncome:     7.0,
		MinCupoAllowed:     800.0,
	}
}

// Validate checks that a ScoringConfig is internally consistent.
func (c ScoringConfig) Validate() error {
	var errs []string

	weights := map[string]float64{
		"know_buyer":       c.Weights.KnowBuyer,
		"buy_freq":         c.Weights.BuyFreq,
		"avg_purchase":     c.Weights.AvgPurchase,
		"psych_organized":  c.Weights.PsychOrganized,
		"psych_plan":       c.Weights.PsychPlan,
		"distance":         c.Weights.Distance,
		"address_verified": c.Weights.AddressVerified,
	}
	for name, w := range weights {
		if w < 0 || math.IsNaN(w) {
			errs = append(errs, fmt.Sprintf("weights.%s must be >= 0", name))
		}
	}

	for i, t := range c.CategoryThresholds {
		if t < 0 || t > 1 {
			errs = append(errs, fmt.Sprintf("category_thresholds[%d] must be within [0,1]", i))
		}
		if i > 0 && t > c.CategoryThresholds[i-1] {
			errs = append(errs, "category_thresholds must be descending")
		}
	}

	if c.MaxCap < 0 {
		errs = append(errs, "max_cap must be >= 0")
	}
	if c.DistanceThreshold <= 0 {
		errs = append(errs, "distance_threshold must be > 0")
	}
	if c.AvgPurchaseMin <= 0 {
		errs = append(errs, "avg_purchase_min must be > 0")
	}
	if c.AvgPurchaseMax <= c.AvgPurchaseMin {
		errs = append(errs, "avg_purchase_max must be > avg_purchase_min")
	}
	if c.SegmentMultiplier < 0 || c.PrudenceFactor < 0 || c.IncomePrudence < 0 || c.BaseDaysIncome < 0 {
		errs = append(errs, "multipliers must be >= 0")
	}
	if c.MinCupoAllowed < 0 {
		errs = append(errs, "min_cupo_allowed must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: scoring config: %s", ErrInvalidInput, strings.Join(errs, "; "))
	}
	return nil
}

// WeightsBalanced reports whether the weights sum to roughly 1.0.
func (c ScoringConfig) WeightsBalanced() bool {
	sum := c.Weights.Sum()
	return sum >= 0.99 && sum <= 1.01
}
