package models

// DashboardSnapshot is the full read-only state served to observers.
type DashboardSnapshot struct {
	GeneratedAt   int64              `json:"generated_at"`
	DryRun        bool               `json:"dry_run"`
	BalanceUSDC   float64            `json:"balance_usdc"`
	EquityUSDC    float64            `json:"equity_usdc"`
	TodayPnLUSDC  float64            `json:"today_pnl_usdc"`
	OpenPositions []Position         `json:"open_positions"`
	RecentTrades  []Trade            `json:"recent_trades"`
	Prices        map[Asset]float64  `json:"prices"`
	Diagnostics   map[string]int64   `json:"diagnostics"`
}

// MLSnapshot is the model-state view: weights, rolling accuracy, and the
// latest prediction per market.
type MLSnapshot struct {
	Trained          bool                  `json:"trained"`
	Weights          map[string]float64    `json:"weights"`
	RollingAccuracy  map[string]float64    `json:"rolling_accuracy"`
	DatasetSize      int                   `json:"dataset_size"`
	LastRetrainTS    int64                 `json:"last_retrain_ts"`
	RetrainCount     int                   `json:"retrain_count"`
	LatestPrediction map[string]Prediction `json:"latest_prediction"`
}
