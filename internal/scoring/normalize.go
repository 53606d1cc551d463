// Package scoring implements the Micro v2 credit heuristic: feature
// normalization, the weighted trust score and the blended credit limit.
// Every function in this package is pure.
package scoring

import (
	"math"

	"github.com/opensource-finance/vecina/internal/domain"
)

// Normalize maps a raw application into seven features in [0,1].
// It never fails: missing or unusable values degrade to documented defaults.
func Normalize(raw domain.RawApplicationInput, cfg domain.ScoringConfig) domain.NormalizedFeatures {
	avg := AvgPurchaseOrDefault(raw.AvgPurchase, cfg.AvgPurchaseMin)

	var distance *float64
	if raw.DistanceKm != nil && !math.IsNaN(*raw.DistanceKm) {
		d := *raw.DistanceKm
		distance = &d
	}

	return domain.NormalizedFeatures{
		KnowBuyer:       ScaleFeature(raw.KnowBuyer, 0, 5),
		BuyFreq:         ScaleFeature(raw.BuyFreq, 0, 5),
		AvgPurchase:     LogScale(avg, cfg.AvgPurchaseMin, cfg.AvgPurchaseMax),
		PsychOrganized:  ScaleFeature(raw.PsychOrganized, 1, 5),
		PsychPlan:       ScaleFeature(raw.PsychPlan, 1, 5),
		Distance:        DistanceFeature(distance, cfg.DistanceThreshold),
		AddressVerified: BoolFeature(raw.AddressVerified),
		AvgPurchaseRaw:  avg,
		DistanceRaw:     distance,
	}
}

// ScaleFeature maps an integer rating on [lo, hi] linearly onto [0,1].
// A missing rating is 0.
func ScaleFeature(v *int, lo, hi int) float64 {
	if v == nil || hi <= lo {
		return 0
	}
	return Clip(float64(*v-lo)/float64(hi-lo), 0, 1)
}

// AvgPurchaseOrDefault returns the average purchase when it is a positive
// finite number and fallback otherwise.
func AvgPurchaseOrDefault(v *float64, fallback float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v <= 0 {
		return fallback
	}
	return *v
}

// LogScale normalizes v between ln(lo) and ln(hi).
func LogScale(v, lo, hi float64) float64 {
	if lo <= 0 || hi <= lo || v <= 0 {
		return 0
	}
	return Clip((math.Log(v)-math.Log(lo))/(math.Log(hi)-math.Log(lo)), 0, 1)
}

// DistanceFeature is 1 for an unknown distance and decays linearly to 0 at threshold.
func DistanceFeature(distanceKm *float64, threshold float64) float64 {
	if distanceKm == nil || math.IsNaN(*distanceKm) {
		return 1
	}
	if threshold <= 0 {
		return 0
	}
	return Clip(1-*distanceKm/threshold, 0, 1)
}

// BoolFeature is 1 for true and 0 for false or absent.
func BoolFeature(v *bool) float64 {
	if v != nil && *v {
		return 1
	}
	return 0
}

// Clip bounds v to [lo, hi]. NaN clips to lo.
func Clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
