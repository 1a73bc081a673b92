package filters

import (
	"sync"
	"testing"

	"PolyBot/internal/domain/models"
)

type stubMetrics struct {
	mu      sync.Mutex
	rejects map[string]int
}

func newStubMetrics() *stubMetrics { return &stubMetrics{rejects: make(map[string]int)} }

func (s *stubMetrics) RecordTick(string, string)          {}
func (s *stubMetrics) RecordCandleClosed(string, string)  {}
func (s *stubMetrics) RecordPrediction(string, string)    {}
func (s *stubMetrics) RecordTradeClosed(string, bool)     {}
func (s *stubMetrics) RecordError(string)                 {}
func (s *stubMetrics) RecordLatency(string, float64)      {}
func (s *stubMetrics) RecordLastPrice(string, float64)    {}
func (s *stubMetrics) SetOpenPositions(int)               {}
func (s *stubMetrics) SetExposure(float64)                {}
func (s *stubMetrics) RecordFilterReject(reason string) {
	s.mu.Lock()
	s.rejects[reason]++
	s.mu.Unlock()
}

func pred(conf float64) *models.Prediction {
	dir := models.DirectionUp
	return &models.Prediction{
		Asset:      models.AssetBTC,
		Timeframe:  models.TimeframeMin15,
		Direction:  dir,
		ProbUp:     0.5 + conf/2,
		Confidence: conf,
	}
}

func passingInput() Input {
	return Input{
		Features: &models.Features{
			MicrostructurePresent: true,
			SpreadBps:             models.Ptr(20.0),
			DepthTop5:             models.Ptr(10000.0),
			ATRPct:                models.Ptr(0.005),
		},
		CalibrationStatus: models.CalibrationReady,
		SecondsToClose:    300,
		TodayPnLUSDC:      0,
	}
}

func TestAllFiltersPass(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	ok, reason := e.Evaluate(pred(0.7), passingInput())
	if !ok {
		t.Fatalf("expected pass, got %s", reason)
	}
}

func TestSpreadFilter(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	in := passingInput()
	in.Features.SpreadBps = models.Ptr(150.0)
	ok, reason := e.Evaluate(pred(0.7), in)
	if ok || reason != models.FilterExcessiveSpread {
		t.Fatalf("want excessive_spread, got ok=%v reason=%s", ok, reason)
	}

	// The 1h threshold is looser; 150 bps passes there.
	p := pred(0.7)
	p.Timeframe = models.TimeframeHour1
	if ok, reason := e.Evaluate(p, in); !ok {
		t.Fatalf("150 bps should pass the 1h threshold, got %s", reason)
	}
}

func TestDepthFilter(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	in := passingInput()
	in.Features.DepthTop5 = models.Ptr(1000.0)
	if ok, reason := e.Evaluate(pred(0.7), in); ok || reason != models.FilterInsufficientDepth {
		t.Fatalf("want insufficient_depth, got ok=%v reason=%s", ok, reason)
	}
}

func TestVolatilityFilter(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	in := passingInput()
	in.Features.ATRPct = models.Ptr(0.05)
	if ok, reason := e.Evaluate(pred(0.7), in); ok || reason != models.FilterHighVolatility {
		t.Fatalf("want high_volatility, got ok=%v reason=%s", ok, reason)
	}
}

func TestTimeToExpiryFilter(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	in := passingInput()
	in.SecondsToClose = 10
	if ok, reason := e.Evaluate(pred(0.7), in); ok || reason != models.FilterInsufficientTime {
		t.Fatalf("want insufficient_time, got ok=%v reason=%s", ok, reason)
	}
}

func TestConfidenceGateIncrementsCounter(t *testing.T) {
	m := newStubMetrics()
	e := New(DefaultConfig(), m)

	// prob_up 0.52 -> confidence 0.04, gated.
	p := pred(0.04)
	ok, reason := e.Evaluate(p, passingInput())
	if ok || reason != models.FilterBelowMinConfidence {
		t.Fatalf("want below_min_confidence, got ok=%v reason=%s", ok, reason)
	}
	if m.rejects[string(models.FilterBelowMinConfidence)] != 1 {
		t.Fatalf("counter not incremented")
	}
	if e.RejectCounts()[string(models.FilterBelowMinConfidence)] != 1 {
		t.Fatalf("internal counter not incremented")
	}
}

func TestWarmupFailsClosed(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	in := passingInput()
	in.CalibrationStatus = models.CalibrationIdle
	if ok, reason := e.Evaluate(pred(0.7), in); ok || reason != models.FilterMarketWarmingUp {
		t.Fatalf("want market_warming_up, got ok=%v reason=%s", ok, reason)
	}

	in.CalibrationStatus = models.CalibrationWarmingUp
	if ok, _ := e.Evaluate(pred(0.7), in); !ok {
		t.Fatalf("warming_up status should pass the warm-up gate")
	}
}

func TestDailyLossGuard(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	in := passingInput()
	in.TodayPnLUSDC = -100
	if ok, reason := e.Evaluate(pred(0.7), in); ok || reason != models.FilterDailyLossLimit {
		t.Fatalf("want daily_loss_limit, got ok=%v reason=%s", ok, reason)
	}
}

func TestMissingMicrostructureIsPermissive(t *testing.T) {
	e := New(DefaultConfig(), newStubMetrics())
	in := Input{
		Features:          &models.Features{},
		CalibrationStatus: models.CalibrationReady,
		SecondsToClose:    300,
	}
	ok, reason := e.Evaluate(pred(0.7), in)
	if !ok {
		t.Fatalf("missing spread/depth/volatility must pass permissively, got %s", reason)
	}
	if e.RejectCounts()["passed_without_microstructure"] != 1 {
		t.Fatalf("missing-microstructure pass not counted")
	}
}

func TestFilterOrder(t *testing.T) {
	// Spread violation must be reported even when later gates would also
	// fail.
	e := New(DefaultConfig(), newStubMetrics())
	in := passingInput()
	in.Features.SpreadBps = models.Ptr(500.0)
	in.CalibrationStatus = models.CalibrationIdle
	_, reason := e.Evaluate(pred(0.1), in)
	if reason != models.FilterExcessiveSpread {
		t.Fatalf("filters out of order: got %s", reason)
	}
}
