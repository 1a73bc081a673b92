package filters

import (
	"sync"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
)

// Config holds the filter thresholds.
type Config struct {
	MaxSpreadBps15m float64
	MaxSpreadBps1h  float64
	MinDepthUSDC    float64
	MaxVolatility5m float64
	MinTTLSecs      int64
	MinConfidence   float64
	MaxDailyLoss    float64
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSpreadBps15m: 100,
		MaxSpreadBps1h:  150,
		MinDepthUSDC:    5000,
		MaxVolatility5m: 0.02,
		MinTTLSecs:      30,
		MinConfidence:   0.55,
		MaxDailyLoss:    50,
	}
}

// Input bundles everything one evaluation needs beyond the prediction.
type Input struct {
	Features          *models.Features
	CalibrationStatus models.CalibrationStatus
	// SecondsToClose is until the live market resolves; <= 0 when the
	// registry has no market.
	SecondsToClose int64
	TodayPnLUSDC   float64
}

// perfStats tracks how trades that passed or would have been rejected by a
// filter actually resolved, for the diagnostics view.
type perfStats struct {
	Allowed       int `json:"allowed"`
	Rejected      int `json:"rejected"`
	WinsAllowed   int `json:"wins_allowed"`
	LossesAllowed int `json:"losses_allowed"`
}

// Engine gates predictions on microstructure, volatility regime, timing,
// liquidity, and risk state. Every rejection is counted by reason.
type Engine struct {
	cfg     Config
	metrics repository.Metrics

	mu       sync.Mutex
	rejects  map[models.FilterReason]int64
	// missingMicro counts passes granted on absent microstructure data, a
	// distinct signal from a genuine pass.
	missingMicro int64
	perf         map[models.FilterReason]*perfStats
}

// New creates a filter engine.
func New(cfg Config, metrics repository.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		metrics: metrics,
		rejects: make(map[models.FilterReason]int64),
		perf:    make(map[models.FilterReason]*perfStats),
	}
}

// Evaluate runs every filter in documented order and returns the first
// failure. Missing spread/depth/volatility values pass permissively;
// confidence and warm-up fail closed.
func (e *Engine) Evaluate(pred *models.Prediction, in Input) (bool, models.FilterReason) {
	if reason := e.check(pred, in); reason != "" {
		e.mu.Lock()
		e.rejects[reason]++
		e.statsFor(reason).Rejected++
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.RecordFilterReject(string(reason))
		}
		return false, reason
	}
	return true, ""
}

func (e *Engine) check(pred *models.Prediction, in Input) models.FilterReason {
	f := in.Features

	maxSpread := e.cfg.MaxSpreadBps15m
	if pred.Timeframe == models.TimeframeHour1 {
		maxSpread = e.cfg.MaxSpreadBps1h
	}
	if f != nil && f.SpreadBps != nil && *f.SpreadBps > maxSpread {
		return models.FilterExcessiveSpread
	}

	if f != nil && f.DepthTop5 != nil && *f.DepthTop5 < e.cfg.MinDepthUSDC {
		return models.FilterInsufficientDepth
	}

	if f != nil && f.ATRPct != nil && *f.ATRPct > e.cfg.MaxVolatility5m {
		return models.FilterHighVolatility
	}

	if in.SecondsToClose > 0 && in.SecondsToClose < e.cfg.MinTTLSecs {
		return models.FilterInsufficientTime
	}

	// Fail closed from here down.
	if pred.Confidence < e.cfg.MinConfidence {
		return models.FilterBelowMinConfidence
	}

	if in.CalibrationStatus == models.CalibrationIdle || in.CalibrationStatus == "" {
		return models.FilterMarketWarmingUp
	}

	if in.TodayPnLUSDC < -e.cfg.MaxDailyLoss {
		return models.FilterDailyLossLimit
	}

	if f != nil && !f.MicrostructurePresent {
		e.mu.Lock()
		e.missingMicro++
		e.mu.Unlock()
	}
	return ""
}

// RecordOutcome attributes a closed trade's result back to the filters that
// let it through, to expose which gates earn their keep.
func (e *Engine) RecordOutcome(win bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reason := range []models.FilterReason{
		models.FilterExcessiveSpread,
		models.FilterInsufficientDepth,
		models.FilterHighVolatility,
		models.FilterInsufficientTime,
		models.FilterBelowMinConfidence,
		models.FilterMarketWarmingUp,
		models.FilterDailyLossLimit,
	} {
		s := e.statsFor(reason)
		s.Allowed++
		if win {
			s.WinsAllowed++
		} else {
			s.LossesAllowed++
		}
	}
}

func (e *Engine) statsFor(reason models.FilterReason) *perfStats {
	s, ok := e.perf[reason]
	if !ok {
		s = &perfStats{}
		e.perf[reason] = s
	}
	return s
}

// RejectCounts copies the per-reason rejection counters.
func (e *Engine) RejectCounts() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int64, len(e.rejects)+1)
	for reason, n := range e.rejects {
		out[string(reason)] = n
	}
	out["passed_without_microstructure"] = e.missingMicro
	return out
}
