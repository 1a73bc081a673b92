package positions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
	"PolyBot/pkg/logger"
)

// Open rejection errors.
var (
	ErrConcurrentPosition = errors.New("position already open for market")
	ErrPerTradeCap        = errors.New("size exceeds per-trade cap")
	ErrExposureCap        = errors.New("total exposure cap reached")
	ErrSubmitFailed       = errors.New("order submission failed permanently")
)

// Config holds sizing, exit, and risk parameters.
type Config struct {
	BaseSizeUSDC     float64
	PerTradeCapUSDC  float64
	TotalExposureCap float64
	MaxDailyLossUSDC float64
	HardStopPct      float64
	TakeProfitPct    float64
	TrailPct         float64
	TrailArmPct      float64
	MaxHold          time.Duration
	FeeBps           float64
	InitialBalance   float64
	SubmitRetries    int
	SubmitBackoff    time.Duration
	DryRun           bool
}

// DefaultConfig returns paper-trading defaults.
func DefaultConfig() Config {
	return Config{
		BaseSizeUSDC:     10,
		PerTradeCapUSDC:  25,
		TotalExposureCap: 100,
		MaxDailyLossUSDC: 50,
		HardStopPct:      0.05,
		TakeProfitPct:    0.05,
		TrailPct:         0.005,
		TrailArmPct:      0.003,
		MaxHold:          2 * time.Hour,
		FeeBps:           20,
		InitialBalance:   1000,
		SubmitRetries:    5,
		SubmitBackoff:    200 * time.Millisecond,
		DryRun:           true,
	}
}

type dailyStats struct {
	Date       string  `json:"date"`
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	PnLUSDC    float64 `json:"pnl_usdc"`
	FeesUSDC   float64 `json:"fees_usdc"`
	VolumeUSDC float64 `json:"volume_usdc"`
}

// Manager owns the open-positions map and the paper balance. All mutation
// happens through Open, OnTick, CloseAll, Shutdown and Restore; everything
// else is a copy.
type Manager struct {
	cfg     Config
	gateway repository.OrderGateway
	metrics repository.Metrics
	log     *logger.Logger

	mu      sync.Mutex
	open    map[string]*models.Position // key: asset|timeframe|slug
	balance float64
	history []models.Trade
	daily   map[string]*dailyStats
}

// New creates a position manager.
func New(cfg Config, gateway repository.OrderGateway, metrics repository.Metrics, log *logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		gateway: gateway,
		metrics: metrics,
		log:     log,
		open:    make(map[string]*models.Position),
		balance: cfg.InitialBalance,
		daily:   make(map[string]*dailyStats),
	}
}

func openKey(asset models.Asset, tf models.Timeframe, slug string) string {
	return string(asset) + "|" + string(tf) + "|" + slug
}

// Open sizes, submits, and registers a position for an accepted prediction.
// entryPrice is the most recent consensus mid. On permanent submission
// failure the returned trade is the zero-PnL SubmitFailed record.
func (m *Manager) Open(ctx context.Context, pred *models.Prediction, f *models.Features, market models.Market, entryPrice float64, nowMs int64) (*models.Position, *models.Trade, error) {
	if entryPrice <= 0 {
		return nil, nil, fmt.Errorf("entry price must be positive, got %v", entryPrice)
	}

	size := m.cfg.BaseSizeUSDC * confidenceCurve(pred.Confidence)
	if size > m.cfg.PerTradeCapUSDC {
		size = m.cfg.PerTradeCapUSDC
	}

	key := openKey(pred.Asset, pred.Timeframe, market.Slug)

	m.mu.Lock()
	if _, exists := m.open[key]; exists {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%s %s %s: %w", pred.Asset, pred.Timeframe, market.Slug, ErrConcurrentPosition)
	}
	exposure := 0.0
	for _, p := range m.open {
		exposure += p.SizeUSDC
	}
	if exposure+size > m.cfg.TotalExposureCap {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%.2f + %.2f > %.2f: %w", exposure, size, m.cfg.TotalExposureCap, ErrExposureCap)
	}
	m.mu.Unlock()

	pos := &models.Position{
		ID:            uuid.NewString(),
		Asset:         pred.Asset,
		Timeframe:     pred.Timeframe,
		Direction:     pred.Direction,
		MarketSlug:    market.Slug,
		TokenID:       market.Token(pred.Direction),
		EntryPrice:    entryPrice,
		CurrentPrice:  entryPrice,
		SizeUSDC:      size,
		OpenedAt:      nowMs,
		MarketCloseTS: market.CloseTS,
		Confidence:    pred.Confidence,
		PeakPrice:     entryPrice,
		TroughPrice:   entryPrice,
		Status:        models.PositionOpen,
		EntryFeatures: entrySnapshot(f, pred),
		FeaturesTriggered: pred.FeaturesTriggered,
		SubmodelProbs:     pred.SubmodelProbs,
	}
	if f != nil {
		vec, mask := f.Vector()
		pos.EntryVector = append([]float64(nil), vec[:]...)
		pos.EntryMask = append([]bool(nil), mask[:]...)
	}

	orderID, err := m.submit(ctx, pos, market)
	if err != nil {
		// Never lose a position silently: a permanently failed open is
		// recorded closed with zero PnL.
		m.mu.Lock()
		trade := m.recordLocked(pos, entryPrice, models.ExitSubmitFailed, nowMs, true)
		m.mu.Unlock()
		if m.log != nil {
			m.log.Error("order submission failed, position closed with zero pnl",
				logger.String("position", pos.ID), logger.Error(err))
		}
		return nil, &trade, fmt.Errorf("%v: %w", err, ErrSubmitFailed)
	}
	pos.OrderID = orderID

	m.mu.Lock()
	if _, exists := m.open[key]; exists {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%s: %w", key, ErrConcurrentPosition)
	}
	m.open[key] = pos
	m.publishGaugesLocked()
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("position opened",
			logger.String("position", pos.ID),
			logger.String("asset", string(pos.Asset)),
			logger.String("timeframe", string(pos.Timeframe)),
			logger.String("direction", string(pos.Direction)),
			logger.Any("size_usdc", pos.SizeUSDC),
			logger.Any("entry", pos.EntryPrice),
		)
	}
	return pos, nil, nil
}

func (m *Manager) submit(ctx context.Context, pos *models.Position, market models.Market) (string, error) {
	req := models.OrderRequest{
		Direction:  pos.Direction,
		SizeUSDC:   pos.SizeUSDC,
		MarketSlug: market.Slug,
		TokenID:    pos.TokenID,
		LimitPrice: pos.EntryPrice,
		ExpirySecs: 30,
	}

	var lastErr error
	backoff := m.cfg.SubmitBackoff
	for attempt := 0; attempt < m.cfg.SubmitRetries; attempt++ {
		id, err := m.gateway.Submit(ctx, req)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if m.metrics != nil {
			m.metrics.RecordError("order_submit")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}

// OnTick updates tracking for every open position on the tick's asset and
// closes those whose exit predicates fire, in the documented order. Returned
// trades preserve closure order.
func (m *Manager) OnTick(t *models.Tick) []models.Trade {
	price := t.ConsensusMid
	if price <= 0 {
		price = t.Mid
	}
	if price <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var closed []models.Trade
	for key, pos := range m.open {
		if pos.Asset != t.Asset {
			continue
		}
		pos.CurrentPrice = price
		if price > pos.PeakPrice {
			pos.PeakPrice = price
		}
		if price < pos.TroughPrice {
			pos.TroughPrice = price
		}
		if !pos.TrailArmed {
			extreme := pos.PeakPrice
			if pos.Direction == models.DirectionDown {
				extreme = pos.TroughPrice
			}
			moved := pos.Direction.Sign() * (extreme - pos.EntryPrice) / pos.EntryPrice
			if moved >= m.cfg.TrailArmPct {
				pos.TrailArmed = true
			}
		}

		if reason, fired := m.exitReason(pos, t.TS); fired {
			pos.Status = models.PositionClosing
			trade := m.recordLocked(pos, price, reason, t.TS, false)
			closed = append(closed, trade)
			delete(m.open, key)
		}
	}

	// A breached daily loss limit force-closes everything still open.
	if len(m.open) > 0 {
		today := utcDay(t.TS)
		if s, ok := m.daily[today]; ok && s.PnLUSDC < -m.cfg.MaxDailyLossUSDC {
			for key, pos := range m.open {
				// Other assets' positions close at their last seen price.
				exit := price
				if pos.Asset != t.Asset {
					exit = pos.CurrentPrice
				}
				pos.Status = models.PositionClosing
				trade := m.recordLocked(pos, exit, models.ExitDailyLossLimit, t.TS, false)
				closed = append(closed, trade)
				delete(m.open, key)
			}
		}
	}

	m.publishGaugesLocked()
	return closed
}

// exitReason checks the predicates in documented priority order. The first
// hit wins.
func (m *Manager) exitReason(pos *models.Position, nowMs int64) (models.ExitReason, bool) {
	if pos.MarketCloseTS > 0 && nowMs >= pos.MarketCloseTS {
		return models.ExitMarketExpiry, true
	}
	pnlPct := pos.UnrealizedPnLPct()
	if pnlPct <= -m.cfg.HardStopPct {
		return models.ExitHardStop, true
	}
	if pnlPct >= m.cfg.TakeProfitPct {
		return models.ExitTakeProfit, true
	}
	if pos.TrailArmed {
		if pos.Direction == models.DirectionUp {
			if pos.CurrentPrice <= pos.PeakPrice*(1-m.cfg.TrailPct) {
				return models.ExitTrailingStop, true
			}
		} else {
			if pos.CurrentPrice >= pos.TroughPrice*(1+m.cfg.TrailPct) {
				return models.ExitTrailingStop, true
			}
		}
	}
	if m.cfg.MaxHold > 0 && nowMs >= pos.OpenedAt+m.cfg.MaxHold.Milliseconds() {
		return models.ExitTimeStop, true
	}
	return "", false
}

// recordLocked finalizes a position into an immutable trade and folds it
// into balance and daily stats. zeroPnL forces the SubmitFailed shape.
func (m *Manager) recordLocked(pos *models.Position, exitPrice float64, reason models.ExitReason, nowMs int64, zeroPnL bool) models.Trade {
	fees := pos.SizeUSDC * m.cfg.FeeBps / 10000 * 2
	pnl := pos.Direction.Sign() * (exitPrice - pos.EntryPrice) / pos.EntryPrice * pos.SizeUSDC
	if zeroPnL {
		pnl = 0
		fees = 0
	}
	net := pnl - fees

	pos.Status = models.PositionClosed
	trade := models.Trade{
		ID:                uuid.NewString(),
		PositionID:        pos.ID,
		Asset:             pos.Asset,
		Timeframe:         pos.Timeframe,
		MarketSlug:        pos.MarketSlug,
		Direction:         pos.Direction,
		EntryPrice:        pos.EntryPrice,
		ExitPrice:         exitPrice,
		SizeUSDC:          pos.SizeUSDC,
		FeesUSDC:          fees,
		PnLUSDC:           net,
		ExitReason:        reason,
		OpenedAt:          pos.OpenedAt,
		ClosedAt:          nowMs,
		HoldSecs:          (nowMs - pos.OpenedAt) / 1000,
		Confidence:        pos.Confidence,
		Win:               net > 0,
		EntryFeatures:     pos.EntryFeatures,
		FeaturesTriggered: pos.FeaturesTriggered,
		SubmodelProbs:     pos.SubmodelProbs,
		EntryVector:       pos.EntryVector,
		EntryMask:         pos.EntryMask,
	}

	m.balance += net
	m.history = append(m.history, trade)
	if len(m.history) > 500 {
		m.history = m.history[len(m.history)-500:]
	}

	day := utcDay(nowMs)
	s, ok := m.daily[day]
	if !ok {
		s = &dailyStats{Date: day}
		m.daily[day] = s
	}
	s.Trades++
	if trade.Win {
		s.Wins++
	} else {
		s.Losses++
	}
	s.PnLUSDC += net
	s.FeesUSDC += fees
	s.VolumeUSDC += pos.SizeUSDC

	if m.metrics != nil {
		m.metrics.RecordTradeClosed(string(reason), trade.Win)
	}
	if m.log != nil {
		m.log.Info("position closed",
			logger.String("position", pos.ID),
			logger.String("reason", string(reason)),
			logger.Any("exit", exitPrice),
			logger.Any("pnl_usdc", net),
		)
	}
	return trade
}

// CloseAll force-closes every open position at its last seen price.
func (m *Manager) CloseAll(reason models.ExitReason, nowMs int64) []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Trade
	for key, pos := range m.open {
		pos.Status = models.PositionClosing
		out = append(out, m.recordLocked(pos, pos.CurrentPrice, reason, nowMs, false))
		delete(m.open, key)
	}
	m.publishGaugesLocked()
	return out
}

// TodayPnL returns today's realized PnL for the daily loss guard.
func (m *Manager) TodayPnL(nowMs int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.daily[utcDay(nowMs)]; ok {
		return s.PnLUSDC
	}
	return 0
}

// OpenPositions copies the open set.
func (m *Manager) OpenPositions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	return out
}

// RecentTrades copies up to n of the latest closed trades, newest last.
func (m *Manager) RecentTrades(n int) []models.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.history) {
		n = len(m.history)
	}
	out := make([]models.Trade, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

// Balance returns the realized paper balance.
func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// Equity returns balance plus unrealized PnL.
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	eq := m.balance
	for _, p := range m.open {
		eq += p.UnrealizedPnLUSDC()
	}
	return eq
}

// DailySummaries exports the per-day rollups.
func (m *Manager) DailySummaries() []models.DailySummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DailySummary, 0, len(m.daily))
	for _, s := range m.daily {
		out = append(out, models.DailySummary{
			Date:       s.Date,
			Trades:     s.Trades,
			Wins:       s.Wins,
			Losses:     s.Losses,
			PnLUSDC:    s.PnLUSDC,
			FeesUSDC:   s.FeesUSDC,
			VolumeUSDC: s.VolumeUSDC,
		})
	}
	return out
}

// persistedState is the paper-trading checkpoint shape.
type persistedState struct {
	Balance   float64                `json:"balance"`
	Open      []models.Position      `json:"open"`
	History   []models.Trade         `json:"history"`
	Daily     map[string]*dailyStats `json:"daily"`
}

// SnapshotState serializes the paper state without touching live
// positions, for mid-run checkpoints.
func (m *Manager) SnapshotState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marshalStateLocked()
}

// Shutdown marks open positions Closing with reason shutdown and returns the
// serialized paper state for final persistence.
func (m *Manager) Shutdown() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.open {
		p.Status = models.PositionClosing
	}
	return m.marshalStateLocked()
}

func (m *Manager) marshalStateLocked() ([]byte, error) {
	open := make([]models.Position, 0, len(m.open))
	for _, p := range m.open {
		open = append(open, *p)
	}
	st := persistedState{Balance: m.balance, Open: open, History: m.history, Daily: m.daily}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal paper state: %w", err)
	}
	return b, nil
}

// Restore loads a paper-trading checkpoint. Positions persisted as Closing
// are reopened for tracking.
func (m *Manager) Restore(b []byte) error {
	var st persistedState
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("unmarshal paper state: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = st.Balance
	m.history = st.History
	if st.Daily != nil {
		m.daily = st.Daily
	}
	for i := range st.Open {
		p := st.Open[i]
		p.Status = models.PositionOpen
		m.open[openKey(p.Asset, p.Timeframe, p.MarketSlug)] = &p
	}
	m.publishGaugesLocked()
	return nil
}

func (m *Manager) publishGaugesLocked() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetOpenPositions(len(m.open))
	exposure := 0.0
	for _, p := range m.open {
		exposure += p.SizeUSDC
	}
	m.metrics.SetExposure(exposure)
}

func utcDay(tsMs int64) string {
	return time.UnixMilli(tsMs).UTC().Format("2006-01-02")
}

func entrySnapshot(f *models.Features, pred *models.Prediction) models.EntrySnapshot {
	snap := models.EntrySnapshot{ProbUp: pred.ProbUp}
	if f == nil {
		return snap
	}
	snap.RSI = f.RSI
	snap.MACDHist = f.MACDHist
	snap.BBPosition = f.BBPosition
	snap.ADX = f.ADX
	snap.ATRPct = f.ATRPct
	snap.SpreadBps = f.SpreadBps
	snap.Regime = f.Regime
	return snap
}
