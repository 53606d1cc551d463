package scoring

import (
	"math"

	"github.com/opensource-finance/vecina/internal/domain"
)

// Evaluate runs the full pipeline on a merged application and returns the
// assessment with display rounding applied.
func Evaluate(raw domain.RawApplicationInput, cfg domain.ScoringConfig) domain.CreditAssessment {
	features := Normalize(raw, cfg)
	score, category, risk := Score(features, features.DistanceRaw, cfg)
	limit := EstimateLimit(score, features, features.AvgPurchaseRaw, raw.BuyFreq, cfg)

	return domain.CreditAssessment{
		Category:         category,
		ScoreConf:        Round(score, 4),
		RiskPct:          Round(risk, 2),
		DebtCapacityPct:  Round(score, 4),
		CupoEstimated:    Round(limit.CupoEstimated, 2),
		RawCupo:          Round(limit.RawCupo, 2),
		CompFeature:      Round(limit.CompFeature, 2),
		CompIncome:       Round(limit.CompIncome, 2),
		Features:         features,
		ClientsPerDay:    limit.ClientsPerDay,
		IncomeProxyDaily: Round(limit.IncomeProxyDaily, 2),
		ModelVersion:     cfg.Version,
	}
}

// Complete reports whether an application carries both halves.
func Complete(raw domain.RawApplicationInput) bool {
	return raw.KnowBuyer != nil && raw.BuyFreq != nil && raw.AvgPurchase != nil &&
		raw.PsychOrganized != nil && raw.PsychPlan != nil
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
