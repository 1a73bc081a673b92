package positions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"PolyBot/internal/domain/models"
)

type stubGateway struct {
	fail    bool
	submits int
}

func (g *stubGateway) Submit(_ context.Context, req models.OrderRequest) (string, error) {
	g.submits++
	if g.fail {
		return "", fmt.Errorf("venue rejected order")
	}
	return fmt.Sprintf("order-%d", g.submits), nil
}

func (g *stubGateway) Cancel(context.Context, string) error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TrailPct = 0.005
	cfg.TrailArmPct = 0.003
	cfg.HardStopPct = 0.05
	cfg.TakeProfitPct = 0.05
	cfg.FeeBps = 0
	cfg.SubmitRetries = 3
	cfg.SubmitBackoff = time.Millisecond
	return cfg
}

func testMarket(closeTS int64) models.Market {
	return models.Market{
		Slug:      "btc-up-or-down-15m",
		Asset:     models.AssetBTC,
		Timeframe: models.TimeframeMin15,
		CloseTS:   closeTS,
		TokenUp:   "tok-up",
		TokenDown: "tok-down",
		Active:    true,
	}
}

func upPred(conf float64) *models.Prediction {
	return &models.Prediction{
		Asset:      models.AssetBTC,
		Timeframe:  models.TimeframeMin15,
		Direction:  models.DirectionUp,
		ProbUp:     0.5 + conf/2,
		Confidence: conf,
	}
}

func btcTick(tsMs int64, mid float64) *models.Tick {
	return &models.Tick{Asset: models.AssetBTC, Source: models.SourceBinance, Mid: mid, ConsensusMid: mid, TS: tsMs}
}

func TestConfidenceCurve(t *testing.T) {
	cases := []struct{ conf, want float64 }{
		{0.50, 0.5},
		{0.55, 0.5},
		{0.60, 0.625},
		{0.65, 0.75},
		{0.80, 1.0},
		{0.95, 1.0},
	}
	for _, c := range cases {
		if got := confidenceCurve(c.conf); math.Abs(got-c.want) > 1e-12 {
			t.Fatalf("curve(%v) = %v, want %v", c.conf, got, c.want)
		}
	}
}

func TestOpenSizesByConfidence(t *testing.T) {
	m := New(testConfig(), &stubGateway{}, nil, nil)
	pos, _, err := m.Open(context.Background(), upPred(0.80), nil, testMarket(0), 100, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if math.Abs(pos.SizeUSDC-testConfig().BaseSizeUSDC) > 1e-12 {
		t.Fatalf("size at 0.80 confidence = %v, want base size", pos.SizeUSDC)
	}
}

func TestDuplicateOpenRejected(t *testing.T) {
	m := New(testConfig(), &stubGateway{}, nil, nil)
	ctx := context.Background()
	if _, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(0), 100, 1000); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(0), 100, 2000)
	if !errors.Is(err, ErrConcurrentPosition) {
		t.Fatalf("want ErrConcurrentPosition, got %v", err)
	}
	if n := len(m.OpenPositions()); n != 1 {
		t.Fatalf("open positions = %d, want 1", n)
	}
}

func TestExposureCap(t *testing.T) {
	cfg := testConfig()
	cfg.BaseSizeUSDC = 60
	cfg.PerTradeCapUSDC = 60
	cfg.TotalExposureCap = 100
	m := New(cfg, &stubGateway{}, nil, nil)
	ctx := context.Background()

	if _, _, err := m.Open(ctx, upPred(0.8), nil, testMarket(0), 100, 1000); err != nil {
		t.Fatalf("first open: %v", err)
	}
	other := testMarket(0)
	other.Slug = "btc-up-or-down-15m-2"
	_, _, err := m.Open(ctx, upPred(0.8), nil, other, 100, 1000)
	if !errors.Is(err, ErrExposureCap) {
		t.Fatalf("want ErrExposureCap, got %v", err)
	}
}

func TestTrailingStopScenario(t *testing.T) {
	// Long at 100.00: 100.00 -> 100.40 arms the trail, the pullback to
	// 100.10 crosses peak*(1-trail) and fires it at a profit.
	cfg := testConfig()
	cfg.TrailPct = 0.002
	m := New(cfg, &stubGateway{}, nil, nil)
	ctx := context.Background()
	pos, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(0), 100.00, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if closed := m.OnTick(btcTick(2000, 100.00)); len(closed) != 0 {
		t.Fatalf("closed prematurely at entry price")
	}
	if closed := m.OnTick(btcTick(3000, 100.40)); len(closed) != 0 {
		t.Fatalf("closed prematurely at the peak")
	}
	closed := m.OnTick(btcTick(4000, 100.10))
	if len(closed) != 1 {
		t.Fatalf("trailing stop did not fire, open=%d", len(m.OpenPositions()))
	}
	trade := closed[0]
	if trade.ExitReason != models.ExitTrailingStop {
		t.Fatalf("exit reason = %s, want trailing_stop", trade.ExitReason)
	}
	if trade.ExitPrice != 100.10 {
		t.Fatalf("exit price = %v, want 100.10", trade.ExitPrice)
	}
	wantPnL := (100.10 - 100.00) / 100.00 * pos.SizeUSDC
	if math.Abs(trade.PnLUSDC-wantPnL) > 1e-9 {
		t.Fatalf("pnl = %v, want %v", trade.PnLUSDC, wantPnL)
	}
}

func TestTrailingStopNotArmedBelowThreshold(t *testing.T) {
	m := New(testConfig(), &stubGateway{}, nil, nil)
	ctx := context.Background()
	if _, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(0), 100.00, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Peak +0.2% never arms a 0.3% trail; the dip must not close.
	m.OnTick(btcTick(2000, 100.20))
	if closed := m.OnTick(btcTick(3000, 99.80)); len(closed) != 0 {
		t.Fatalf("unarmed trail fired: %+v", closed[0])
	}
}

func TestMarketExpiryBeatsHardStop(t *testing.T) {
	closeTS := int64(10_000)
	m := New(testConfig(), &stubGateway{}, nil, nil)
	ctx := context.Background()
	if _, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(closeTS), 100.00, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// -10% at exactly market close: both predicates fire, expiry wins.
	closed := m.OnTick(btcTick(closeTS, 90.00))
	if len(closed) != 1 {
		t.Fatalf("position did not close")
	}
	if closed[0].ExitReason != models.ExitMarketExpiry {
		t.Fatalf("exit reason = %s, want market_expiry", closed[0].ExitReason)
	}
}

func TestHardStopAndTakeProfit(t *testing.T) {
	m := New(testConfig(), &stubGateway{}, nil, nil)
	ctx := context.Background()
	if _, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(0), 100.00, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}
	closed := m.OnTick(btcTick(2000, 94.00))
	if len(closed) != 1 || closed[0].ExitReason != models.ExitHardStop {
		t.Fatalf("want hard_stop, got %+v", closed)
	}

	if _, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(0), 100.00, 3000); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	closed = m.OnTick(btcTick(4000, 106.00))
	if len(closed) != 1 || closed[0].ExitReason != models.ExitTakeProfit {
		t.Fatalf("want take_profit, got %+v", closed)
	}
}

func TestTimeStop(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHold = time.Minute
	m := New(cfg, &stubGateway{}, nil, nil)
	if _, _, err := m.Open(context.Background(), upPred(0.7), nil, testMarket(0), 100.00, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}
	closed := m.OnTick(btcTick(1000+time.Minute.Milliseconds(), 100.50))
	if len(closed) != 1 || closed[0].ExitReason != models.ExitTimeStop {
		t.Fatalf("want time_stop, got %+v", closed)
	}
}

func TestSubmitFailureClosesWithZeroPnL(t *testing.T) {
	gw := &stubGateway{fail: true}
	m := New(testConfig(), gw, nil, nil)
	pos, trade, err := m.Open(context.Background(), upPred(0.7), nil, testMarket(0), 100.00, 1000)
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("want ErrSubmitFailed, got %v", err)
	}
	if pos != nil {
		t.Fatalf("position returned despite failed submit")
	}
	if trade == nil {
		t.Fatalf("failed open must still produce a closed trade record")
	}
	if trade.ExitReason != models.ExitSubmitFailed || trade.PnLUSDC != 0 {
		t.Fatalf("want submit_failed with zero pnl, got %+v", trade)
	}
	if gw.submits != testConfig().SubmitRetries {
		t.Fatalf("submit attempts = %d, want %d", gw.submits, testConfig().SubmitRetries)
	}
	if n := len(m.OpenPositions()); n != 0 {
		t.Fatalf("failed open left a live position")
	}
}

func TestNoPositionInBothOpenAndHistory(t *testing.T) {
	m := New(testConfig(), &stubGateway{}, nil, nil)
	if _, _, err := m.Open(context.Background(), upPred(0.7), nil, testMarket(0), 100.00, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}
	closed := m.OnTick(btcTick(2000, 106.00))
	if len(closed) != 1 {
		t.Fatalf("position did not close")
	}
	for _, open := range m.OpenPositions() {
		if open.ID == closed[0].PositionID {
			t.Fatalf("position simultaneously open and closed")
		}
	}
}

func TestPnLIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.FeeBps = 20
	m := New(cfg, &stubGateway{}, nil, nil)
	pos, _, err := m.Open(context.Background(), upPred(0.7), nil, testMarket(0), 100.00, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	closed := m.OnTick(btcTick(2000, 106.00))
	trade := closed[0]
	fees := pos.SizeUSDC * cfg.FeeBps / 10000 * 2
	want := (106.00-100.00)/100.00*pos.SizeUSDC - fees
	if math.Abs(trade.PnLUSDC-want) > 1e-9 {
		t.Fatalf("pnl = %v, want %v", trade.PnLUSDC, want)
	}
}

func TestDailyLossLimitForcesClose(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyLossUSDC = 0.2
	cfg.HardStopPct = 0.05
	m := New(cfg, &stubGateway{}, nil, nil)
	ctx := context.Background()

	// First position hard-stops for a realized loss beyond the daily cap.
	if _, _, err := m.Open(ctx, upPred(0.7), nil, testMarket(0), 100.00, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if closed := m.OnTick(btcTick(2000, 94.00)); len(closed) != 1 {
		t.Fatalf("setup: hard stop did not fire")
	}

	// The next open position is swept by the daily loss guard on the
	// following tick even though its own stops are quiet.
	other := testMarket(0)
	other.Slug = "btc-up-or-down-15m-b"
	if _, _, err := m.Open(ctx, upPred(0.7), nil, other, 100.00, 3000); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	closed := m.OnTick(btcTick(4000, 100.01))
	if len(closed) != 1 || closed[0].ExitReason != models.ExitDailyLossLimit {
		t.Fatalf("want daily_loss_limit sweep, got %+v", closed)
	}
}

func TestShutdownRestoreRoundTrip(t *testing.T) {
	m := New(testConfig(), &stubGateway{}, nil, nil)
	if _, _, err := m.Open(context.Background(), upPred(0.7), nil, testMarket(0), 100.00, 1000); err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.OnTick(btcTick(2000, 100.10))

	blob, err := m.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	restored := New(testConfig(), &stubGateway{}, nil, nil)
	if err := restored.Restore(blob); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	open := restored.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("restored %d open positions, want 1", len(open))
	}
	if open[0].Status != models.PositionOpen || open[0].EntryPrice != 100.00 {
		t.Fatalf("restored position wrong: %+v", open[0])
	}
	if restored.Balance() != m.Balance() {
		t.Fatalf("balance not restored: %v vs %v", restored.Balance(), m.Balance())
	}
}
