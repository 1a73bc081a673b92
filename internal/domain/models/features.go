package models

// Regime labels the prevailing market character.
type Regime string

const (
	RegimeRanging  Regime = "ranging"
	RegimeTrending Regime = "trending"
	RegimeVolatile Regime = "volatile"
)

func (r Regime) encoded() float64 {
	switch r {
	case RegimeTrending:
		return 1
	case RegimeVolatile:
		return 2
	default:
		return 0
	}
}

// NumFeatures is the fixed arity of the model input vector.
const NumFeatures = 50

// Features is the full per-(asset, timeframe) feature record. Every numeric
// field is optional: nil means the underlying history or data source was
// insufficient, never that the value was zero. The record is emitted on
// every candle update regardless of how many fields are populated.
type Features struct {
	Asset     Asset     `json:"asset"`
	Timeframe Timeframe `json:"timeframe"`
	// ComputedTS is when the engine ran, milliseconds.
	ComputedTS  int64   `json:"computed_ts"`
	CandleCount int     `json:"candle_count"`
	Close       float64 `json:"close"`

	// Technicals.
	RSI           *float64 `json:"rsi,omitempty"`
	RSINorm       *float64 `json:"rsi_norm,omitempty"`
	MACD          *float64 `json:"macd,omitempty"`
	MACDSignal    *float64 `json:"macd_signal,omitempty"`
	MACDHist      *float64 `json:"macd_hist,omitempty"`
	MACDHistSlope *float64 `json:"macd_hist_slope,omitempty"`
	BBPosition    *float64 `json:"bb_position,omitempty"`
	BBWidth       *float64 `json:"bb_width,omitempty"`
	BBSqueeze     *float64 `json:"bb_squeeze,omitempty"`
	ADX           *float64 `json:"adx,omitempty"`
	PlusDI        *float64 `json:"plus_di,omitempty"`
	MinusDI       *float64 `json:"minus_di,omitempty"`
	TrendStrength *float64 `json:"trend_strength,omitempty"`

	// Momentum.
	Velocity          *float64 `json:"velocity,omitempty"`
	Acceleration      *float64 `json:"acceleration,omitempty"`
	Momentum          *float64 `json:"momentum,omitempty"`
	StochRSI          *float64 `json:"stoch_rsi,omitempty"`
	StochRSIOverbought *float64 `json:"stoch_rsi_overbought,omitempty"`
	StochRSIOversold  *float64 `json:"stoch_rsi_oversold,omitempty"`
	VWAPDeviation     *float64 `json:"vwap_deviation,omitempty"`
	ATRPct            *float64 `json:"atr_pct,omitempty"`
	Volatility        *float64 `json:"volatility,omitempty"`
	VolatilityPct     *float64 `json:"volatility_percentile,omitempty"`

	// Microstructure.
	MicrostructurePresent bool     `json:"microstructure_present"`
	SpreadBps             *float64 `json:"spread_bps,omitempty"`
	SpreadPercentile      *float64 `json:"spread_percentile,omitempty"`
	BookImbalance         *float64 `json:"book_imbalance,omitempty"`
	DepthTop5             *float64 `json:"depth_top5,omitempty"`
	LiquidityConcentration *float64 `json:"liquidity_concentration,omitempty"`
	TradeIntensity        *float64 `json:"trade_intensity,omitempty"`
	TradeIntensityZ       *float64 `json:"trade_intensity_z,omitempty"`
	OrderFlowImbalance    *float64 `json:"order_flow_imbalance,omitempty"`

	// Temporal.
	MinutesToClose *float64 `json:"minutes_to_close,omitempty"`
	WindowProgress *float64 `json:"window_progress,omitempty"`
	HourSin        *float64 `json:"hour_sin,omitempty"`
	HourCos        *float64 `json:"hour_cos,omitempty"`
	DaySin         *float64 `json:"day_sin,omitempty"`
	DayCos         *float64 `json:"day_cos,omitempty"`
	IsWeekend      *float64 `json:"is_weekend,omitempty"`

	// Context.
	Regime              Regime   `json:"regime"`
	BTCETHCorrelation   *float64 `json:"btc_eth_correlation,omitempty"`
	CorrelationChange   *float64 `json:"correlation_change,omitempty"`
	MarketSentiment     *float64 `json:"market_sentiment,omitempty"`
	ConsensusConfidence *float64 `json:"consensus_confidence,omitempty"`

	// Calibrator summary.
	CalibratorConfidence *float64 `json:"calibrator_confidence,omitempty"`
	IndicatorsAgreeing   *float64 `json:"indicators_agreeing,omitempty"`
	IndicatorsAvgWinRate *float64 `json:"indicators_avg_win_rate,omitempty"`
	BullishWeight        *float64 `json:"bullish_weight,omitempty"`
	BearishWeight        *float64 `json:"bearish_weight,omitempty"`
}

// featureNames is the canonical model-input ordering. Vector, Mask and
// FeatureNames must stay in sync; feature engine tests assert the arity.
var featureNames = [NumFeatures]string{
	"rsi",
	"rsi_norm",
	"macd",
	"macd_signal",
	"macd_hist",
	"macd_hist_slope",
	"bb_position",
	"bb_width",
	"bb_squeeze",
	"adx",
	"plus_di",
	"minus_di",
	"trend_strength",
	"velocity",
	"acceleration",
	"momentum",
	"stoch_rsi",
	"stoch_rsi_overbought",
	"stoch_rsi_oversold",
	"vwap_deviation",
	"atr_pct",
	"volatility",
	"volatility_percentile",
	"spread_bps",
	"spread_percentile",
	"book_imbalance",
	"depth_top5",
	"liquidity_concentration",
	"trade_intensity",
	"trade_intensity_z",
	"order_flow_imbalance",
	"minutes_to_close",
	"window_progress",
	"hour_sin",
	"hour_cos",
	"day_sin",
	"day_cos",
	"is_weekend",
	"regime",
	"btc_eth_correlation",
	"correlation_change",
	"market_sentiment",
	"consensus_confidence",
	"calibrator_confidence",
	"indicators_agreeing",
	"indicators_avg_win_rate",
	"bullish_weight",
	"bearish_weight",
	"is_btc",
	"is_15m",
}

// FeatureNames returns the canonical feature ordering.
func FeatureNames() []string {
	names := make([]string, NumFeatures)
	copy(names, featureNames[:])
	return names
}

// FeatureName returns the name at a vector index.
func FeatureName(i int) string { return featureNames[i] }

func (f *Features) ordered() [NumFeatures]*float64 {
	regime := f.Regime.encoded()
	isBTC := 0.0
	if f.Asset == AssetBTC {
		isBTC = 1
	}
	is15m := 0.0
	if f.Timeframe == TimeframeMin15 {
		is15m = 1
	}
	return [NumFeatures]*float64{
		f.RSI,
		f.RSINorm,
		f.MACD,
		f.MACDSignal,
		f.MACDHist,
		f.MACDHistSlope,
		f.BBPosition,
		f.BBWidth,
		f.BBSqueeze,
		f.ADX,
		f.PlusDI,
		f.MinusDI,
		f.TrendStrength,
		f.Velocity,
		f.Acceleration,
		f.Momentum,
		f.StochRSI,
		f.StochRSIOverbought,
		f.StochRSIOversold,
		f.VWAPDeviation,
		f.ATRPct,
		f.Volatility,
		f.VolatilityPct,
		f.SpreadBps,
		f.SpreadPercentile,
		f.BookImbalance,
		f.DepthTop5,
		f.LiquidityConcentration,
		f.TradeIntensity,
		f.TradeIntensityZ,
		f.OrderFlowImbalance,
		f.MinutesToClose,
		f.WindowProgress,
		f.HourSin,
		f.HourCos,
		f.DaySin,
		f.DayCos,
		f.IsWeekend,
		&regime,
		f.BTCETHCorrelation,
		f.CorrelationChange,
		f.MarketSentiment,
		f.ConsensusConfidence,
		f.CalibratorConfidence,
		f.IndicatorsAgreeing,
		f.IndicatorsAvgWinRate,
		f.BullishWeight,
		f.BearishWeight,
		&isBTC,
		&is15m,
	}
}

// Vector flattens the record into the canonical model input. Missing fields
// are imputed with 0; the returned mask is true where the value was present.
func (f *Features) Vector() (vec [NumFeatures]float64, mask [NumFeatures]bool) {
	for i, p := range f.ordered() {
		if p != nil {
			vec[i] = *p
			mask[i] = true
		}
	}
	return vec, mask
}

// ReadyCount returns how many of the 50 fields are populated.
func (f *Features) ReadyCount() int {
	n := 0
	for _, p := range f.ordered() {
		if p != nil {
			n++
		}
	}
	return n
}

// Ptr is a convenience for building optional feature values.
func Ptr(v float64) *float64 { return &v }
