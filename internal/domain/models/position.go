package models

// PositionStatus is the lifecycle state of a position. Transitions only move
// forward: Open -> Closing -> Closed.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosing PositionStatus = "closing"
	PositionClosed  PositionStatus = "closed"
)

// ExitReason is the closed set of position exit causes.
type ExitReason string

const (
	ExitTrailingStop   ExitReason = "trailing_stop"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitHardStop       ExitReason = "hard_stop"
	ExitTimeStop       ExitReason = "time_stop"
	ExitMarketExpiry   ExitReason = "market_expiry"
	ExitDailyLossLimit ExitReason = "daily_loss_limit"
	ExitShutdown       ExitReason = "shutdown"
	ExitSubmitFailed   ExitReason = "submit_failed"
)

// Position is one open or closing bet on a prediction-market token.
type Position struct {
	ID            string         `json:"id"`
	Asset         Asset          `json:"asset"`
	Timeframe     Timeframe      `json:"timeframe"`
	Direction     Direction      `json:"direction"`
	MarketSlug    string         `json:"market_slug"`
	TokenID       string         `json:"token_id"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	SizeUSDC      float64        `json:"size_usdc"`
	OpenedAt      int64          `json:"opened_at"`
	MarketCloseTS int64          `json:"market_close_ts"`
	Confidence    float64        `json:"confidence"`
	PeakPrice     float64        `json:"peak_price"`
	TroughPrice   float64        `json:"trough_price"`
	Status        PositionStatus `json:"status"`
	// TrailArmed flips once price has moved past entry by the arm
	// threshold; the trailing stop is inert before that.
	TrailArmed bool `json:"trail_armed"`
	// EntryFeatures snapshots the key indicators at entry for the trade
	// record and calibration feedback.
	EntryFeatures     EntrySnapshot `json:"entry_features"`
	FeaturesTriggered []string      `json:"features_triggered"`
	SubmodelProbs     map[string]float64 `json:"submodel_probs,omitempty"`
	OrderID           string        `json:"order_id,omitempty"`
	// EntryVector and EntryMask are the full imputed feature vector at
	// entry, kept for the training feedback loop.
	EntryVector []float64 `json:"entry_vector,omitempty"`
	EntryMask   []bool    `json:"entry_mask,omitempty"`
}

// UnrealizedPnLPct returns the signed fractional move since entry.
func (p *Position) UnrealizedPnLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Direction.Sign() * (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// UnrealizedPnLUSDC returns the mark-to-market PnL before fees.
func (p *Position) UnrealizedPnLUSDC() float64 {
	return p.UnrealizedPnLPct() * p.SizeUSDC
}

// EntrySnapshot captures the indicator context a position was opened with.
type EntrySnapshot struct {
	RSI        *float64 `json:"rsi,omitempty"`
	MACDHist   *float64 `json:"macd_hist,omitempty"`
	BBPosition *float64 `json:"bb_position,omitempty"`
	ADX        *float64 `json:"adx,omitempty"`
	ATRPct     *float64 `json:"atr_pct,omitempty"`
	SpreadBps  *float64 `json:"spread_bps,omitempty"`
	Regime     Regime   `json:"regime"`
	ProbUp     float64  `json:"prob_up"`
}
