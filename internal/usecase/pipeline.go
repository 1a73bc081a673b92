package usecase

import (
	"context"
	"sync"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
	"PolyBot/internal/services/calibration"
	"PolyBot/internal/services/candles"
	"PolyBot/internal/services/features"
	"PolyBot/internal/services/filters"
	"PolyBot/internal/services/markets"
	"PolyBot/internal/services/ml"
	"PolyBot/internal/services/positions"
	"PolyBot/pkg/logger"
)

// DecisionPipeline is the per-tick decision path: position tracking first,
// then candle assembly, feature computation, prediction, filtering, and
// position opening. One tick is processed to completion before the next, so
// state-mutating stages observe each other in a fixed order.
type DecisionPipeline struct {
	assembler  *candles.Assembler
	engine     *features.Engine
	ensemble   *ml.Ensemble
	filters    *filters.Engine
	positions  *positions.Manager
	calibrator *calibration.Calibrator
	registry   *markets.Registry
	recorder   *TradeRecorder
	metrics    repository.Metrics
	log        *logger.Logger
	timeframes []models.Timeframe

	mu     sync.RWMutex
	prices map[models.Asset]float64
	skips  map[models.SkipReason]int64
}

// NewDecisionPipeline wires the decision path.
func NewDecisionPipeline(
	assembler *candles.Assembler,
	engine *features.Engine,
	ensemble *ml.Ensemble,
	filterEngine *filters.Engine,
	posManager *positions.Manager,
	calibrator *calibration.Calibrator,
	registry *markets.Registry,
	recorder *TradeRecorder,
	metrics repository.Metrics,
	log *logger.Logger,
	timeframes []models.Timeframe,
) *DecisionPipeline {
	if len(timeframes) == 0 {
		timeframes = models.AllTimeframes()
	}
	return &DecisionPipeline{
		assembler:  assembler,
		engine:     engine,
		ensemble:   ensemble,
		filters:    filterEngine,
		positions:  posManager,
		calibrator: calibrator,
		registry:   registry,
		recorder:   recorder,
		metrics:    metrics,
		log:        log,
		timeframes: timeframes,
		prices:     make(map[models.Asset]float64),
		skips:      make(map[models.SkipReason]int64),
	}
}

// Process runs one tick through the full decision path.
func (p *DecisionPipeline) Process(ctx context.Context, t *models.Tick) error {
	// Exits before entries: a position closed by this tick must feed the
	// calibrator before any new signal on the same tick is sized.
	if closed := p.positions.OnTick(t); len(closed) > 0 {
		p.recorder.OnTradesClosed(ctx, closed)
	}

	price := t.ConsensusMid
	if price <= 0 {
		price = t.Mid
	}
	p.mu.Lock()
	p.prices[t.Asset] = price
	p.mu.Unlock()

	updates, err := p.assembler.OnTick(t, p.timeframes)
	if err != nil {
		p.metrics.RecordError("assembler")
		return err
	}

	micro := microFromTick(t)
	for _, u := range updates {
		if u.Closed != nil {
			p.engine.Commit(*u.Closed)
			p.metrics.RecordCandleClosed(string(u.Asset), string(u.Timeframe))
		}
		p.decide(ctx, t, u, micro, price)
	}
	return nil
}

func (p *DecisionPipeline) decide(ctx context.Context, t *models.Tick, u candles.Update, micro *models.Microstructure, price float64) {
	key := models.MarketKey{Asset: u.Asset, Timeframe: u.Timeframe}

	market, hasMarket := p.registry.Get(key)
	mctx := features.MarketContext{
		NowMs:       t.TS,
		Calibration: p.calibrator.Summary(key),
	}
	if hasMarket {
		mctx.MarketCloseTS = market.CloseTS
	}

	f := p.engine.Compute(u.Snapshot, micro, mctx)

	pred, skip := p.ensemble.Predict(f)
	if pred == nil {
		p.mu.Lock()
		p.skips[skip]++
		p.mu.Unlock()
		return
	}
	p.metrics.RecordPrediction(string(pred.Asset), string(pred.Timeframe))

	in := filters.Input{
		Features:          f,
		CalibrationStatus: p.calibrator.Status(key),
		TodayPnLUSDC:      p.positions.TodayPnL(t.TS),
	}
	if hasMarket && market.CloseTS > 0 {
		in.SecondsToClose = (market.CloseTS - t.TS) / 1000
	}
	if ok, _ := p.filters.Evaluate(pred, in); !ok {
		return
	}

	if !hasMarket {
		p.metrics.RecordError("no_live_market")
		return
	}

	_, failed, err := p.positions.Open(ctx, pred, f, market, price, t.TS)
	if failed != nil {
		p.recorder.OnTradesClosed(ctx, []models.Trade{*failed})
	}
	if err != nil {
		p.metrics.RecordError("open_rejected")
		if p.log != nil {
			p.log.Debug("open rejected", logger.Error(err))
		}
	}
}

// microFromTick derives the microstructure inputs observable from the tick
// itself. Book depth and flow need the venue book feed and stay absent.
func microFromTick(t *models.Tick) *models.Microstructure {
	if t.Bid <= 0 || t.Ask <= 0 {
		return &models.Microstructure{}
	}
	return &models.Microstructure{
		Present:   true,
		SpreadBps: models.Ptr(t.SpreadBps()),
	}
}

// Prices copies the last seen consensus price per asset.
func (p *DecisionPipeline) Prices() map[models.Asset]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[models.Asset]float64, len(p.prices))
	for k, v := range p.prices {
		out[k] = v
	}
	return out
}

// SkipCounts copies the prediction skip counters.
func (p *DecisionPipeline) SkipCounts() map[string]int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int64, len(p.skips))
	for k, v := range p.skips {
		out[string(k)] = v
	}
	return out
}
