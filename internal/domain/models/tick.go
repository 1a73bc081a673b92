package models

// Tick is a single normalized price observation from one source.
// Timestamps are exchange milliseconds; LocalTS is when we received it.
type Tick struct {
	Asset   Asset   `json:"asset"`
	Source  Source  `json:"source"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Mid     float64 `json:"mid"`
	TS      int64   `json:"ts"`
	LocalTS int64   `json:"local_ts"`
	// LatencyMs is exchange-to-local delivery latency, used to weight the
	// consensus mid.
	LatencyMs int64 `json:"latency_ms"`

	// ConsensusMid and ConsensusConfidence are stamped by the tick router
	// from all live sources for the asset. Zero until at least one source
	// has reported.
	ConsensusMid        float64 `json:"consensus_mid"`
	ConsensusConfidence float64 `json:"consensus_confidence"`
}

// SpreadBps returns the bid/ask spread in basis points, or 0 when the tick
// carries no quote.
func (t Tick) SpreadBps() float64 {
	if t.Bid <= 0 || t.Ask <= 0 || t.Mid <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / t.Mid * 10000
}

// Microstructure carries order-book derived inputs for the feature engine.
// Every field is independently optional; Present is false when no book data
// at all was observed this cycle. Absent fields stay absent downstream so
// the filters can apply their permissive defaults knowingly.
type Microstructure struct {
	Present        bool     `json:"present"`
	SpreadBps      *float64 `json:"spread_bps,omitempty"`
	BookImbalance  *float64 `json:"book_imbalance,omitempty"`
	DepthTop5USDC  *float64 `json:"depth_top5_usdc,omitempty"`
	TradesPerMin   *float64 `json:"trades_per_min,omitempty"`
	OrderFlowDelta *float64 `json:"order_flow_delta,omitempty"`
}
