package models

// Candle is an OHLCV aggregate over one timeframe bucket. OpenTS is the
// bucket start in milliseconds, always aligned to the timeframe duration.
type Candle struct {
	Asset     Asset     `json:"asset"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTS    int64     `json:"open_ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Trades    int64     `json:"trades"`
}

// CloseTS returns the exclusive end of the bucket in milliseconds.
func (c Candle) CloseTS() int64 {
	return c.OpenTS + c.Timeframe.DurationSecs()*1000
}

// Valid reports whether the OHLC invariant low <= open,close <= high holds
// and the open timestamp is bucket-aligned.
func (c Candle) Valid() bool {
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return false
	}
	return c.Timeframe.BucketStart(c.OpenTS) == c.OpenTS
}
