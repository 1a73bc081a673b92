package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/services/calibration"
	"PolyBot/internal/services/candles"
	"PolyBot/internal/services/features"
	"PolyBot/internal/services/filters"
	"PolyBot/internal/services/markets"
	"PolyBot/internal/services/ml"
	"PolyBot/internal/services/positions"
)

type memStateStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemStateStore() *memStateStore { return &memStateStore{m: make(map[string][]byte)} }

func (s *memStateStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[key]
	return b, ok, nil
}

func (s *memStateStore) Save(_ context.Context, key string, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), b...)
	return nil
}

type noMarkets struct{}

func (noMarkets) FetchMarkets(context.Context) ([]models.Market, error) { return nil, nil }

type simGateway struct{}

func (simGateway) Submit(context.Context, models.OrderRequest) (string, error) { return "sim-1", nil }
func (simGateway) Cancel(context.Context, string) error                        { return nil }

func newTestPipeline(t *testing.T) (*DecisionPipeline, *positions.Manager, *features.Engine) {
	t.Helper()
	m := newCountingMetrics()

	assembler := candles.New(200)
	engine := features.New(nil)
	ens, err := ml.NewEnsemble(ml.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	filterEngine := filters.New(filters.DefaultConfig(), m)
	posManager := positions.New(positions.DefaultConfig(), simGateway{}, m, nil)
	calibrator := calibration.New(calibration.DefaultConfig())
	registry := markets.New(noMarkets{}, time.Minute, 30, nil)
	trainer := ml.NewTrainer(ml.DefaultTrainerConfig(), ens, ml.NewDataset(2000), nil)
	recorder := NewTradeRecorder(calibrator, ens, trainer, filterEngine, posManager, newMemStateStore(), nil, nil, m, nil)

	p := NewDecisionPipeline(assembler, engine, ens, filterEngine, posManager, calibrator, registry, recorder, m, nil,
		[]models.Timeframe{models.TimeframeMin15})
	return p, posManager, engine
}

// Warm-up skip: a cold start never opens positions, but the pipeline keeps
// emitting feature records and skip diagnostics the whole time.
func TestColdStartNeverTrades(t *testing.T) {
	p, posManager, engine := newTestPipeline(t)
	ctx := context.Background()

	base := models.TimeframeMin15.BucketStart(1700000000000)
	durMs := models.TimeframeMin15.DurationSecs() * 1000

	// 30 ticks one bucket apart (29 candle closes), trending upward.
	for i := int64(0); i < 30; i++ {
		tick := &models.Tick{
			Asset:        models.AssetBTC,
			Source:       models.SourceBinance,
			Mid:          50000 + float64(i)*25,
			ConsensusMid: 50000 + float64(i)*25,
			TS:           base + i*durMs,
		}
		if err := p.Process(ctx, tick); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	if n := len(posManager.OpenPositions()); n != 0 {
		t.Fatalf("cold pipeline opened %d positions", n)
	}
	skips := p.SkipCounts()
	if skips[string(models.SkipModelNotTrained)] == 0 {
		t.Fatalf("untrained skips not counted: %v", skips)
	}

	// After 27+ closes the indicator set must be warm.
	snap := p.assembler.Snapshot(models.AssetBTC, models.TimeframeMin15)
	f := engine.Compute(snap, nil, features.MarketContext{NowMs: base + 30*durMs})
	if f.RSI == nil || f.MACD == nil {
		t.Fatalf("indicators still cold after 29 closes: rsi=%v macd=%v", f.RSI, f.MACD)
	}
}

// Exits processed by a tick must reach the calibrator before the next open
// decision on the same tick.
func TestClosedTradesFeedCalibrator(t *testing.T) {
	p, posManager, _ := newTestPipeline(t)
	ctx := context.Background()

	market := models.Market{
		Slug: "btc-up-or-down-15m", Asset: models.AssetBTC,
		Timeframe: models.TimeframeMin15, TokenUp: "u", TokenDown: "d", Active: true,
	}
	pred := &models.Prediction{
		Asset: models.AssetBTC, Timeframe: models.TimeframeMin15,
		Direction: models.DirectionUp, ProbUp: 0.8, Confidence: 0.6,
		FeaturesTriggered: []string{"rsi"},
	}
	if _, _, err := posManager.Open(ctx, pred, nil, market, 100, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// +6% tick closes the position with TakeProfit inside Process.
	tick := &models.Tick{
		Asset: models.AssetBTC, Source: models.SourceBinance,
		Mid: 106, ConsensusMid: 106, TS: 2000,
	}
	if err := p.Process(ctx, tick); err != nil {
		t.Fatalf("Process: %v", err)
	}

	key := models.MarketKey{Asset: models.AssetBTC, Timeframe: models.TimeframeMin15}
	if got := p.calibrator.Status(key); got != models.CalibrationWarmingUp {
		t.Fatalf("calibrator did not see the closure: status=%s", got)
	}
	// A recorded win lifts the indicator weight above the unseen-epsilon
	// floor of 0.01.
	if w := p.calibrator.Weight(key, "rsi"); w <= 0.01 {
		t.Fatalf("triggered indicator weight not updated: %v", w)
	}
}
