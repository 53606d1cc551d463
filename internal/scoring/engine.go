package scoring

import "github.com/opensource-finance/vecina/internal/domain"

// DistanceAlertPenalty multiplies the weighted sum when the customer lives
// beyond the configured alert distance.
const DistanceAlertPenalty = 0.6

// WeightedSum is the unclipped, unpenalized trust score.
func WeightedSum(f domain.NormalizedFeatures, w domain.ScoringWeights) float64 {
	return w.KnowBuyer*f.KnowBuyer +
		w.BuyFreq*f.BuyFreq +
		w.AvgPurchase*f.AvgPurchase +
		w.PsychOrganized*f.PsychOrganized +
		w.PsychPlan*f.PsychPlan +
		w.Distance*f.Distance +
		w.AddressVerified*f.AddressVerified
}

// Penalized applies the distance alert penalty to sum. The result is not clipped.
func Penalized(sum float64, rawDistance *float64, alert float64) float64 {
	if rawDistance != nil && *rawDistance > alert {
		return sum * DistanceAlertPenalty
	}
	return sum
}

// Score computes the trust score in [0,1], its category and the risk percentage.
func Score(f domain.NormalizedFeatures, rawDistance *float64, cfg domain.ScoringConfig) (float64, domain.Category, float64) {
	score := Clip(Penalized(WeightedSum(f, cfg.Weights), rawDistance, cfg.DistanceAlert), 0, 1)
	return score, Categorize(score, cfg.CategoryThresholds), (1 - score) * 100
}

// Categorize maps a score to a letter. Thresholds are inclusive, so a score
// equal to a cut point gets the higher category.
func Categorize(score float64, t [4]float64) domain.Category {
	switch {
	case score >= t[0]:
		return domain.CategoryA
	case score >= t[1]:
		return domain.CategoryB
	case score >= t[2]:
		return domain.CategoryC
	case score >= t[3]:
		return domain.CategoryD
	default:
		return domain.CategoryE
	}
}
