package features

import (
	"math"
	"testing"

	"PolyBot/internal/domain/models"
)

const durMs = 900000

func mkCandle(i int, close float64) models.Candle {
	base := models.TimeframeMin15.BucketStart(1700000000000)
	return models.Candle{
		Asset:     models.AssetBTC,
		Timeframe: models.TimeframeMin15,
		OpenTS:    base + int64(i)*durMs,
		Open:      close,
		High:      close * 1.001,
		Low:       close * 0.999,
		Close:     close,
		Volume:    10,
	}
}

// feed commits n closed candles with the given close series and returns the
// snapshot that would accompany the next compute.
func feed(e *Engine, closes []float64) []models.Candle {
	out := make([]models.Candle, 0, len(closes))
	for i, c := range closes {
		candle := mkCandle(i, c)
		e.Commit(candle)
		out = append(out, candle)
	}
	return out
}

func linearCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func ctxAt(tsMs int64) MarketContext {
	return MarketContext{NowMs: tsMs, Calibration: models.CalibrationSummary{Status: models.CalibrationIdle}}
}

func TestFeaturesEmittedWithColdIndicators(t *testing.T) {
	e := New(nil)
	snap := feed(e, linearCloses(5, 100, 1))

	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if f == nil {
		t.Fatalf("features must always be emitted")
	}
	if f.RSI != nil {
		t.Fatalf("RSI should be nil with %d candles", len(snap))
	}
	if f.MACD != nil {
		t.Fatalf("MACD should be nil with %d candles", len(snap))
	}
	if f.CandleCount != 5 {
		t.Fatalf("candle count = %d, want 5", f.CandleCount)
	}
}

func TestRSINilUnderFifteenCandles(t *testing.T) {
	e := New(nil)
	snap := feed(e, linearCloses(14, 100, 0.5))
	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if f.RSI != nil {
		t.Fatalf("RSI computed with only 14 closes")
	}

	e2 := New(nil)
	snap = feed(e2, linearCloses(15, 100, 0.5))
	f = e2.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if f.RSI == nil {
		t.Fatalf("RSI missing with 15 closes")
	}
}

func TestRSIRangeAndDirection(t *testing.T) {
	e := New(nil)
	snap := feed(e, linearCloses(30, 100, 1)) // relentless uptrend
	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if f.RSI == nil {
		t.Fatalf("RSI missing")
	}
	if *f.RSI < 0 || *f.RSI > 100 {
		t.Fatalf("RSI out of range: %v", *f.RSI)
	}
	if *f.RSI < 70 {
		t.Fatalf("RSI in pure uptrend should be high, got %v", *f.RSI)
	}
	if f.RSINorm == nil || math.Abs(*f.RSINorm-(*f.RSI-50)/50) > 1e-12 {
		t.Fatalf("rsi_norm inconsistent with rsi")
	}

	e2 := New(nil)
	snap = feed(e2, linearCloses(30, 200, -1))
	f = e2.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if *f.RSI > 30 {
		t.Fatalf("RSI in pure downtrend should be low, got %v", *f.RSI)
	}
}

func TestMACDAvailableAfterTwentySevenCandles(t *testing.T) {
	e := New(nil)
	snap := feed(e, linearCloses(27, 100, 0.3))
	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if f.RSI == nil || f.MACD == nil {
		t.Fatalf("RSI and MACD must both be present after 27 closes (rsi=%v macd=%v)", f.RSI, f.MACD)
	}
	if f.MACDSignal == nil || f.MACDHist == nil {
		t.Fatalf("MACD signal/hist missing")
	}
	// The histogram must carry the sign of macd - signal.
	want := *f.MACD - *f.MACDSignal
	if (want > 0) != (*f.MACDHist > 0) && want != 0 {
		t.Fatalf("macd_hist sign mismatch: hist=%v macd-signal=%v", *f.MACDHist, want)
	}
	if math.Abs(*f.MACDHist-want) > 1e-9 {
		t.Fatalf("macd_hist = %v, want %v", *f.MACDHist, want)
	}
}

func TestBollingerPositionClamped(t *testing.T) {
	e := New(nil)
	closes := linearCloses(25, 100, 0)
	closes[len(closes)-1] = 130 // violent last move
	snap := feed(e, closes)
	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if f.BBPosition == nil {
		t.Fatalf("bb_position missing with 25 closes")
	}
	if *f.BBPosition < -0.5 || *f.BBPosition > 1.5 {
		t.Fatalf("bb_position outside clamp: %v", *f.BBPosition)
	}
}

func TestStochRSIBounds(t *testing.T) {
	e := New(nil)
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/3)
	}
	snap := feed(e, closes)
	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	if f.StochRSI == nil {
		t.Fatalf("stoch_rsi missing")
	}
	if *f.StochRSI < 0 || *f.StochRSI > 1 {
		t.Fatalf("stoch_rsi out of [0,1]: %v", *f.StochRSI)
	}
}

func TestReplayIsBitIdentical(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + 3*math.Sin(float64(i)/5) + 0.1*float64(i%7)
	}

	run := func() *models.Features {
		e := New(nil)
		snap := feed(e, closes)
		return e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	}

	a, b := run(), run()
	va, _ := a.Vector()
	vb, _ := b.Vector()
	for i := range va {
		if math.Float64bits(va[i]) != math.Float64bits(vb[i]) {
			t.Fatalf("feature %s differs between identical replays: %v vs %v",
				models.FeatureName(i), va[i], vb[i])
		}
	}
}

func TestDivisionGuardsNeverProduceNaN(t *testing.T) {
	e := New(nil)
	snap := feed(e, linearCloses(40, 100, 0)) // perfectly flat market
	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	vec, mask := f.Vector()
	for i, v := range vec {
		if mask[i] && (math.IsNaN(v) || math.IsInf(v, 0)) {
			t.Fatalf("feature %s is %v", models.FeatureName(i), v)
		}
	}
}

func TestMicrostructureAbsencePropagates(t *testing.T) {
	e := New(nil)
	snap := feed(e, linearCloses(30, 100, 0.2))

	f := e.Compute(snap, &models.Microstructure{}, ctxAt(snap[len(snap)-1].OpenTS))
	if f.MicrostructurePresent {
		t.Fatalf("microstructure flagged present without data")
	}
	if f.SpreadBps != nil || f.DepthTop5 != nil {
		t.Fatalf("absent microstructure fields must stay nil")
	}

	spread := 12.5
	f = e.Compute(snap, &models.Microstructure{Present: true, SpreadBps: &spread}, ctxAt(snap[len(snap)-1].OpenTS))
	if !f.MicrostructurePresent || f.SpreadBps == nil || *f.SpreadBps != 12.5 {
		t.Fatalf("present spread not propagated")
	}
	if f.DepthTop5 != nil {
		t.Fatalf("depth fabricated from absent input")
	}
}

func TestVectorArity(t *testing.T) {
	if len(models.FeatureNames()) != models.NumFeatures {
		t.Fatalf("feature name list arity %d != %d", len(models.FeatureNames()), models.NumFeatures)
	}
	e := New(nil)
	snap := feed(e, linearCloses(40, 100, 0.5))
	f := e.Compute(snap, nil, ctxAt(snap[len(snap)-1].OpenTS))
	vec, mask := f.Vector()
	if len(vec) != models.NumFeatures || len(mask) != models.NumFeatures {
		t.Fatalf("vector arity mismatch")
	}
}
