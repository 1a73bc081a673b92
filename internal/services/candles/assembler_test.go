package candles

import (
	"testing"

	"PolyBot/internal/domain/models"
)

func tick(asset models.Asset, tsMs int64, mid float64) *models.Tick {
	return &models.Tick{
		Asset:  asset,
		Source: models.SourceBinance,
		Mid:    mid,
		TS:     tsMs,
	}
}

var tf15 = []models.Timeframe{models.TimeframeMin15}

func TestCandleBuilding(t *testing.T) {
	a := New(100)
	base := int64(1700000100000) // inside a 15m bucket

	for _, step := range []struct {
		off int64
		mid float64
	}{{0, 50000}, {10000, 50100}, {20000, 49900}} {
		if _, err := a.OnTick(tick(models.AssetBTC, base+step.off, step.mid), tf15); err != nil {
			t.Fatalf("OnTick: %v", err)
		}
	}

	snap := a.Snapshot(models.AssetBTC, models.TimeframeMin15)
	if len(snap) != 1 {
		t.Fatalf("expected one forming candle, got %d", len(snap))
	}
	c := snap[0]
	if c.Open != 50000 || c.High != 50100 || c.Low != 49900 || c.Close != 49900 {
		t.Fatalf("unexpected OHLC: %+v", c)
	}
	if !c.Valid() {
		t.Fatalf("candle violates invariants: %+v", c)
	}
}

func TestCandleRollAtBucketBoundary(t *testing.T) {
	a := New(100)
	bucket := models.TimeframeMin15.BucketStart(1700000100000)
	durMs := models.TimeframeMin15.DurationSecs() * 1000

	if _, err := a.OnTick(tick(models.AssetETH, bucket, 3000), tf15); err != nil {
		t.Fatalf("OnTick: %v", err)
	}

	// One millisecond before the boundary still extends the candle.
	ups, err := a.OnTick(tick(models.AssetETH, bucket+durMs-1, 3010), tf15)
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if ups[0].Closed != nil {
		t.Fatalf("candle closed too early")
	}

	// Exactly at the boundary rolls a new one.
	ups, err = a.OnTick(tick(models.AssetETH, bucket+durMs, 3020), tf15)
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	closed := ups[0].Closed
	if closed == nil {
		t.Fatalf("expected closed candle at bucket boundary")
	}
	if closed.OpenTS != bucket || closed.Close != 3010 {
		t.Fatalf("unexpected closed candle: %+v", closed)
	}

	snap := a.Snapshot(models.AssetETH, models.TimeframeMin15)
	if got := snap[len(snap)-1].OpenTS; got != bucket+durMs {
		t.Fatalf("forming candle open_ts = %d, want %d", got, bucket+durMs)
	}
}

func TestConsecutiveCandlesAreAdjacent(t *testing.T) {
	a := New(100)
	bucket := models.TimeframeMin15.BucketStart(1700000000000)
	durMs := models.TimeframeMin15.DurationSecs() * 1000

	for i := int64(0); i < 5; i++ {
		if _, err := a.OnTick(tick(models.AssetBTC, bucket+i*durMs, 100+float64(i)), tf15); err != nil {
			t.Fatalf("OnTick: %v", err)
		}
	}

	snap := a.Snapshot(models.AssetBTC, models.TimeframeMin15)
	for i := 1; i < len(snap); i++ {
		if snap[i].OpenTS != snap[i-1].OpenTS+durMs {
			t.Fatalf("gap between candles %d and %d: %d -> %d", i-1, i, snap[i-1].OpenTS, snap[i].OpenTS)
		}
	}
}

func TestRingBound(t *testing.T) {
	a := New(10)
	bucket := models.TimeframeMin15.BucketStart(1700000000000)
	durMs := models.TimeframeMin15.DurationSecs() * 1000

	for i := int64(0); i < 30; i++ {
		if _, err := a.OnTick(tick(models.AssetBTC, bucket+i*durMs, 100), tf15); err != nil {
			t.Fatalf("OnTick: %v", err)
		}
	}
	if n := a.ClosedCount(models.AssetBTC, models.TimeframeMin15); n != 10 {
		t.Fatalf("ring kept %d candles, want 10", n)
	}
}

func TestSeedRejectsOutOfOrder(t *testing.T) {
	a := New(100)
	bucket := models.TimeframeMin15.BucketStart(1700000000000)
	durMs := models.TimeframeMin15.DurationSecs() * 1000

	mk := func(openTS int64) models.Candle {
		return models.Candle{
			Asset: models.AssetBTC, Timeframe: models.TimeframeMin15,
			OpenTS: openTS, Open: 1, High: 2, Low: 0.5, Close: 1.5,
		}
	}
	seeded := a.Seed([]models.Candle{mk(bucket), mk(bucket + durMs), mk(bucket)})
	if seeded != 2 {
		t.Fatalf("seeded %d, want 2", seeded)
	}
}

func TestLateTickFromSlowSourceIgnored(t *testing.T) {
	a := New(100)
	bucket := models.TimeframeMin15.BucketStart(1700000000000)
	durMs := models.TimeframeMin15.DurationSecs() * 1000

	if _, err := a.OnTick(tick(models.AssetBTC, bucket+durMs, 101), tf15); err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	// A tick from the already-rolled bucket must not reopen it.
	ups, err := a.OnTick(tick(models.AssetBTC, bucket, 99), tf15)
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}
	if len(ups) != 0 {
		t.Fatalf("late tick produced an update")
	}
	snap := a.Snapshot(models.AssetBTC, models.TimeframeMin15)
	if snap[len(snap)-1].Close != 101 {
		t.Fatalf("late tick mutated forming candle")
	}
}
