package calibration

import (
	"bytes"
	"math"
	"testing"

	"PolyBot/internal/domain/models"
)

func closedTrade(i int, win bool, indicators ...string) *models.Trade {
	return &models.Trade{
		Asset:             models.AssetBTC,
		Timeframe:         models.TimeframeMin15,
		Win:               win,
		ClosedAt:          1700000000000 + int64(i)*1000,
		FeaturesTriggered: indicators,
	}
}

func TestWarmupProgression(t *testing.T) {
	c := New(DefaultConfig())
	key := models.MarketKey{Asset: models.AssetBTC, Timeframe: models.TimeframeMin15}

	if got := c.Status(key); got != models.CalibrationIdle {
		t.Fatalf("fresh market status = %s, want idle", got)
	}

	for i := 0; i < 29; i++ {
		c.RecordTrade(closedTrade(i, i%2 == 0, "rsi"))
	}
	if got := c.Status(key); got != models.CalibrationWarmingUp {
		t.Fatalf("status after 29 trades = %s, want warming_up", got)
	}

	var view models.CalibrationView
	for _, v := range c.Views() {
		if v.Asset == models.AssetBTC && v.Timeframe == models.TimeframeMin15 {
			view = v
		}
	}
	if math.Abs(view.ProgressPct-96.666666) > 0.01 {
		t.Fatalf("progress after 29/30 = %v, want ~96.67", view.ProgressPct)
	}

	c.RecordTrade(closedTrade(29, true, "rsi", "macd_hist"))
	if got := c.Status(key); got != models.CalibrationReady {
		t.Fatalf("status after 30 trades = %s, want ready", got)
	}
	for _, v := range c.Views() {
		if v.Asset == models.AssetBTC && v.Timeframe == models.TimeframeMin15 {
			if v.IndicatorsActive < 1 {
				t.Fatalf("indicators_active = %d, want >= 1", v.IndicatorsActive)
			}
			if v.ProgressPct != 100 {
				t.Fatalf("progress = %v, want 100", v.ProgressPct)
			}
		}
	}
}

func TestEWMAWinRateMovesTowardOutcomes(t *testing.T) {
	c := New(DefaultConfig())
	key := models.MarketKey{Asset: models.AssetBTC, Timeframe: models.TimeframeMin15}

	for i := 0; i < 100; i++ {
		c.RecordTrade(closedTrade(i, true, "rsi"))
	}
	winWeight := c.Weight(key, "rsi")

	c2 := New(DefaultConfig())
	for i := 0; i < 100; i++ {
		c2.RecordTrade(closedTrade(i, false, "rsi"))
	}
	lossWeight := c2.Weight(key, "rsi")

	if winWeight <= lossWeight {
		t.Fatalf("winning indicator weight %v should exceed losing %v", winWeight, lossWeight)
	}
	// A losing indicator bottoms out at the epsilon floor.
	if math.Abs(lossWeight-epsilonWeight) > 1e-9 {
		t.Fatalf("losing indicator weight = %v, want epsilon %v", lossWeight, epsilonWeight)
	}
	// With alpha 0.02 a hundred straight wins pulls the rate most of the
	// way from 0.5 toward 1.
	wantRate := 1 - 0.5*math.Pow(0.98, 100)
	if math.Abs(winWeight-(math.Max(wantRate-0.5, 0)+epsilonWeight)) > 1e-9 {
		t.Fatalf("win weight = %v, inconsistent with EWMA rate %v", winWeight, wantRate)
	}
}

func TestUnseenIndicatorGetsEpsilon(t *testing.T) {
	c := New(DefaultConfig())
	key := models.MarketKey{Asset: models.AssetETH, Timeframe: models.TimeframeHour1}
	if w := c.Weight(key, "never_seen"); w != epsilonWeight {
		t.Fatalf("unseen indicator weight = %v, want %v", w, epsilonWeight)
	}
}

func TestMarketsAreIndependent(t *testing.T) {
	c := New(DefaultConfig())
	for i := 0; i < 40; i++ {
		c.RecordTrade(closedTrade(i, true, "rsi"))
	}
	btc := models.MarketKey{Asset: models.AssetBTC, Timeframe: models.TimeframeMin15}
	eth := models.MarketKey{Asset: models.AssetETH, Timeframe: models.TimeframeMin15}
	if c.Status(btc) != models.CalibrationReady {
		t.Fatalf("btc should be ready")
	}
	if c.Status(eth) != models.CalibrationIdle {
		t.Fatalf("eth must be untouched by btc trades")
	}
}

func TestSnapshotRestoreBitIdentical(t *testing.T) {
	c := New(DefaultConfig())
	for i := 0; i < 37; i++ {
		c.RecordTrade(closedTrade(i, i%3 != 0, "rsi", "macd_hist", "bb_position"))
	}

	first, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := New(DefaultConfig())
	if err := restored.Restore(first); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	second, err := restored.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot after restore: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("snapshot not bit-identical after restore round trip")
	}

	key := models.MarketKey{Asset: models.AssetBTC, Timeframe: models.TimeframeMin15}
	if restored.Weight(key, "rsi") != c.Weight(key, "rsi") {
		t.Fatalf("indicator weight drifted across restore")
	}
	if restored.Status(key) != c.Status(key) {
		t.Fatalf("status drifted across restore")
	}
}

func TestRestoreRejectsCorruptCheckpoint(t *testing.T) {
	c := New(DefaultConfig())
	if err := c.Restore([]byte("{not json")); err == nil {
		t.Fatalf("corrupt checkpoint accepted")
	}
}

func TestSummaryReflectsIndicators(t *testing.T) {
	c := New(DefaultConfig())
	key := models.MarketKey{Asset: models.AssetBTC, Timeframe: models.TimeframeMin15}

	for i := 0; i < 50; i++ {
		c.RecordTrade(closedTrade(i, true, "rsi"))
	}
	sum := c.Summary(key)
	if sum.Status != models.CalibrationReady {
		t.Fatalf("summary status = %s", sum.Status)
	}
	if sum.Agreeing < 1 {
		t.Fatalf("agreeing = %d, want >= 1", sum.Agreeing)
	}
	if sum.BullishWeight <= 0 {
		t.Fatalf("bullish weight = %v", sum.BullishWeight)
	}
	if sum.AvgWinRate <= 0.5 {
		t.Fatalf("avg win rate after straight wins = %v", sum.AvgWinRate)
	}
}
