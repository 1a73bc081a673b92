package models

// Trade is the immutable record emitted when a position closes. PnL is net
// of fees: Direction.Sign() * (exit - entry) / entry * size - fees.
type Trade struct {
	ID            string     `json:"id"`
	PositionID    string     `json:"position_id"`
	Asset         Asset      `json:"asset"`
	Timeframe     Timeframe  `json:"timeframe"`
	MarketSlug    string     `json:"market_slug"`
	Direction     Direction  `json:"direction"`
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     float64    `json:"exit_price"`
	SizeUSDC      float64    `json:"size_usdc"`
	FeesUSDC      float64    `json:"fees_usdc"`
	PnLUSDC       float64    `json:"pnl_usdc"`
	ExitReason    ExitReason `json:"exit_reason"`
	OpenedAt      int64      `json:"opened_at"`
	ClosedAt      int64      `json:"closed_at"`
	HoldSecs      int64      `json:"hold_secs"`
	Confidence    float64    `json:"confidence"`
	Win           bool       `json:"win"`
	EntryFeatures EntrySnapshot `json:"entry_features"`
	// FeaturesTriggered is copied from the originating prediction for
	// per-indicator calibration.
	FeaturesTriggered []string           `json:"features_triggered"`
	SubmodelProbs     map[string]float64 `json:"submodel_probs,omitempty"`
	// EntryVector and EntryMask carry the entry-time feature vector into
	// the training window.
	EntryVector []float64 `json:"entry_vector,omitempty"`
	EntryMask   []bool    `json:"entry_mask,omitempty"`
}

// DailySummary aggregates realized results for one UTC day.
type DailySummary struct {
	Date        string  `json:"date"` // YYYY-MM-DD, UTC
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	PnLUSDC     float64 `json:"pnl_usdc"`
	FeesUSDC    float64 `json:"fees_usdc"`
	VolumeUSDC  float64 `json:"volume_usdc"`
}
