package models

// Prediction is a directional call produced by the ensemble.
type Prediction struct {
	Asset     Asset     `json:"asset"`
	Timeframe Timeframe `json:"timeframe"`
	Direction Direction `json:"direction"`
	// ProbUp is the calibrated probability of the UP outcome, in [0, 1].
	ProbUp float64 `json:"prob_up"`
	// Confidence is |ProbUp - 0.5| * 2 unless the ensemble overrides it.
	Confidence float64 `json:"confidence"`
	ModelName  string  `json:"model_name"`
	// FeaturesTriggered lists feature names whose standardized value
	// exceeded the z-score threshold in the predicted direction, in
	// canonical vector order.
	FeaturesTriggered []string `json:"features_triggered"`
	// SubmodelProbs records each submodel's raw probability, keyed by
	// submodel name, for outcome attribution.
	SubmodelProbs map[string]float64 `json:"submodel_probs"`
	TS            int64              `json:"ts"`
}

// SkipReason explains why no prediction was produced. Empty means a
// prediction was emitted.
type SkipReason string

const (
	SkipLowConfidence     SkipReason = "low_confidence"
	SkipTooFewFeatures    SkipReason = "too_few_features"
	SkipModelNotTrained   SkipReason = "model_not_trained"
)

// FilterReason names a smart-filter rejection.
type FilterReason string

const (
	FilterExcessiveSpread       FilterReason = "excessive_spread"
	FilterInsufficientDepth     FilterReason = "insufficient_depth"
	FilterHighVolatility        FilterReason = "high_volatility"
	FilterInsufficientTime      FilterReason = "insufficient_time"
	FilterBelowMinConfidence    FilterReason = "below_min_confidence"
	FilterMarketWarmingUp       FilterReason = "market_warming_up"
	FilterDailyLossLimit        FilterReason = "daily_loss_limit"
)
