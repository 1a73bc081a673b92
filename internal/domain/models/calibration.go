package models

// CalibrationStatus is the per-market calibration readiness.
type CalibrationStatus string

const (
	CalibrationIdle      CalibrationStatus = "idle"
	CalibrationWarmingUp CalibrationStatus = "warming_up"
	CalibrationReady     CalibrationStatus = "ready"
)

// IndicatorStats tracks one indicator's contribution quality within a
// single market. WinRate is an exponentially weighted estimate.
type IndicatorStats struct {
	Name        string  `json:"name"`
	Signals     int     `json:"signals"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	Weight      float64 `json:"weight"`
	LastUpdated int64   `json:"last_updated"`
}

// MarketCalibration is the owned calibration record for one market.
type MarketCalibration struct {
	Key         MarketKey                  `json:"key"`
	SampleCount int                        `json:"sample_count"`
	Wins        int                        `json:"wins"`
	Losses      int                        `json:"losses"`
	Indicators  map[string]*IndicatorStats `json:"indicators"`
	Status      CalibrationStatus          `json:"status"`
	LastUpdated int64                      `json:"last_updated"`
}

// Summary condenses a market's calibration into the feature-engine inputs.
type CalibrationSummary struct {
	Confidence    float64 `json:"confidence"`
	Agreeing      int     `json:"agreeing"`
	AvgWinRate    float64 `json:"avg_win_rate"`
	BullishWeight float64 `json:"bullish_weight"`
	BearishWeight float64 `json:"bearish_weight"`
	Status        CalibrationStatus `json:"status"`
}

// CalibrationView is the read-only snapshot served by the dashboard.
type CalibrationView struct {
	Asset            Asset             `json:"asset"`
	Timeframe        Timeframe         `json:"timeframe"`
	SampleCount      int               `json:"sample_count"`
	Target           int               `json:"target"`
	ProgressPct      float64           `json:"progress_pct"`
	IndicatorsActive int               `json:"indicators_active"`
	AvgWinRate       float64           `json:"avg_win_rate"`
	Status           CalibrationStatus `json:"status"`
}
