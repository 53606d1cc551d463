package scoring

import (
	"math"

	"github.com/opensource-finance/vecina/internal/domain"
)

// defaultClientsPerDay is used for purchase frequencies outside the table.
const defaultClientsPerDay = 3

var clientsPerDay = map[int]int{0: 0, 1: 1, 2: 3, 3: 5, 4: 8, 5: 12}

// ClientsPerDay converts the buy frequency rating into estimated daily customers.
// A missing rating counts as 0.
func ClientsPerDay(buyFreq *int) int {
	if buyFreq == nil {
		return 0
	}
	if n, ok := clientsPerDay[*buyFreq]; ok {
		return n
	}
	return defaultClientsPerDay
}

// EstimateLimit blends a feature-driven estimate and an income-proxy estimate
// into the recommended cupo.
func EstimateLimit(score float64, f domain.NormalizedFeatures, rawAvgPurchase float64, buyFreq *int, cfg domain.ScoringConfig) domain.LimitEstimate {
	compFeature := score * f.AvgPurchase * cfg.MaxCap * cfg.SegmentMultiplier * cfg.PrudenceFactor

	clients := ClientsPerDay(buyFreq)
	incomeProxy := rawAvgPurchase * float64(clients)
	compIncome := score * incomeProxy * cfg.BaseDaysIncome * cfg.IncomePrudence

	raw := 0.5 * (compFeature + compIncome)
	cupo := Clip(raw, 0, cfg.MaxCap)

	// Only category C and above get the minimum, and never above the ceiling.
	if cupo < cfg.MinCupoAllowed && score >= cfg.CategoryThresholds[2] {
		cupo = math.Min(cfg.MinCupoAllowed, cfg.MaxCap)
	}

	return domain.LimitEstimate{
		CupoEstimated:    cupo,
		RawCupo:          raw,
		CompFeature:      compFeature,
		CompIncome:       compIncome,
		ClientsPerDay:    clients,
		IncomeProxyDaily: incomeProxy,
	}
}
