package domain

// RawApplicationInput is the merged application fed to the scoring pipeline.
// A nil field means the value was not provided.
type RawApplicationInput struct {
	KnowBuyer       *int     `json:"know_buyer,omitempty"`
	BuyFreq         *int     `json:"buy_freq,omitempty"`
	AvgPurchase     *float64 `json:"avg_purchase,omitempty"`
	PsychOrganized  *int     `json:"psych_organized,omitempty"`
	PsychPlan       *int     `json:"psych_plan,omitempty"`
	DistanceKm      *float64 `json:"distance_km,omitempty"`
	AddressVerified *bool    `json:"address_verified,omitempty"`
}

// NormalizedFeatures are the seven bounded features plus the raw values
// that the penalty and limit logic still need.
type NormalizedFeatures struct {
	KnowBuyer       float64 `json:"f_know_buyer"`
	BuyFreq         float64 `json:"f_buy_freq"`
	AvgPurchase     float64 `json:"f_avg_purchase"`
	PsychOrganized  float64 `json:"f_psych_organized"`
	PsychPlan       float64 `json:"f_psych_plan"`
	Distance        float64 `json:"f_distance"`
	AddressVerified float64 `json:"f_address_verified"`

	// AvgPurchaseRaw is the average purchase after default substitution.
	AvgPurchaseRaw float64 `json:"avg_purchase_raw"`

	// DistanceRaw is the distance as received, nil when absent.
	DistanceRaw *float64 `json:"distance_raw"`
}

// Map returns the features keyed by name.
func (f NormalizedFeatures) Map() map[string]float64 {
	return map[string]float64{
		"know_buyer":       f.KnowBuyer,
		"buy_freq":         f.BuyFreq,
		"avg_purchase":     f.AvgPurchase,
		"psych_organized":  f.PsychOrganized,
		"psych_plan":       f.PsychPlan,
		"distance":         f.Distance,
		"address_verified": f.AddressVerified,
	}
}

// Category is the letter grade of an assessment.
type Category string

const (
	CategoryA Category = "A"
	CategoryB Category = "B"
	CategoryC Category = "C"
	CategoryD Category = "D"
	CategoryE Category = "E"
)

// LimitEstimate is the output of the credit limit estimator.
type LimitEstimate struct {
	CupoEstimated    float64
	RawCupo          float64
	CompFeature      float64
	CompIncome       float64
	ClientsPerDay    int
	IncomeProxyDaily float64
}

// CreditAssessment is the final, immutable credit decision.
type CreditAssessment struct {
	Category         Category           `json:"category"`
	ScoreConf        float64            `json:"score_conf"`
	RiskPct          float64            `json:"risk_pct"`
	DebtCapacityPct  float64            `json:"debt_capacity_pct"`
	CupoEstimated    float64            `json:"cupo_estimated"`
	RawCupo          float64            `json:"raw_cupo"`
	CompFeature      float64            `json:"comp_feature"`
	CompIncome       float64            `json:"comp_income"`
	Features         NormalizedFeatures `json:"features"`
	ClientsPerDay    int                `json:"clients_per_day"`
	IncomeProxyDaily float64            `json:"income_proxy_daily"`
	ModelVersion     string             `json:"model_version,omitempty"`
}

// FallbackAssessment is returned when scoring cannot run on a complete application.
func FallbackAssessment() CreditAssessment {
	return CreditAssessment{
		Category:  CategoryE,
		ScoreConf: 0.0,
		RiskPct:   100.0,
	}
}
