package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"PolyBot/internal/domain/models"
)

const (
	// epsilonWeight keeps an indicator's contribution weight strictly
	// positive even at a 50% win rate.
	epsilonWeight = 0.01
)

// Config parameterizes per-market calibration.
type Config struct {
	// WarmupTarget is the closed-trade count at which a market flips to
	// Ready.
	WarmupTarget int
	// Alpha is the exponential weight for the per-indicator win-rate
	// estimate.
	Alpha float64
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{WarmupTarget: 30, Alpha: 0.02}
}

// Calibrator owns the per-market calibration table. Only the trade recorder
// mutates it; everything else sees copies.
type Calibrator struct {
	cfg Config

	mu      sync.Mutex
	markets map[models.MarketKey]*models.MarketCalibration
}

// New creates an empty calibrator.
func New(cfg Config) *Calibrator {
	if cfg.WarmupTarget <= 0 {
		cfg.WarmupTarget = 30
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.02
	}
	return &Calibrator{cfg: cfg, markets: make(map[models.MarketKey]*models.MarketCalibration)}
}

func (c *Calibrator) marketLocked(key models.MarketKey) *models.MarketCalibration {
	m, ok := c.markets[key]
	if !ok {
		m = &models.MarketCalibration{
			Key:        key,
			Indicators: make(map[string]*models.IndicatorStats),
			Status:     models.CalibrationIdle,
		}
		c.markets[key] = m
	}
	return m
}

// RecordTrade folds one closed trade into its market's calibration: sample
// counters, per-indicator EWMA win rates, derived weights, and status.
func (c *Calibrator) RecordTrade(t *models.Trade) {
	key := models.MarketKey{Asset: t.Asset, Timeframe: t.Timeframe}

	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.marketLocked(key)
	m.SampleCount++
	if t.Win {
		m.Wins++
	} else {
		m.Losses++
	}
	m.LastUpdated = t.ClosedAt

	outcome := 0.0
	if t.Win {
		outcome = 1.0
	}
	for _, name := range t.FeaturesTriggered {
		st, ok := m.Indicators[name]
		if !ok {
			// A fresh indicator starts at the uninformative prior so a
			// single win does not dominate.
			st = &models.IndicatorStats{Name: name, WinRate: 0.5}
			m.Indicators[name] = st
		}
		st.Signals++
		if t.Win {
			st.Wins++
		} else {
			st.Losses++
		}
		st.WinRate = st.WinRate + c.cfg.Alpha*(outcome-st.WinRate)
		st.Weight = math.Max(st.WinRate-0.5, 0) + epsilonWeight
		st.LastUpdated = t.ClosedAt
	}

	switch {
	case m.SampleCount >= c.cfg.WarmupTarget:
		m.Status = models.CalibrationReady
	default:
		m.Status = models.CalibrationWarmingUp
	}
}

// Status returns a market's calibration status, Idle when unseen.
func (c *Calibrator) Status(key models.MarketKey) models.CalibrationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.markets[key]; ok {
		return m.Status
	}
	return models.CalibrationIdle
}

// Summary condenses one market's calibration into feature-engine inputs.
func (c *Calibrator) Summary(key models.MarketKey) models.CalibrationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.markets[key]
	if !ok {
		return models.CalibrationSummary{Status: models.CalibrationIdle}
	}

	sum := models.CalibrationSummary{Status: m.Status}
	var rateSum float64
	for _, st := range m.Indicators {
		if st.Signals == 0 {
			continue
		}
		rateSum += st.WinRate
		if st.WinRate > 0.5 {
			sum.Agreeing++
			sum.BullishWeight += st.Weight
		} else if st.WinRate < 0.5 {
			sum.BearishWeight += st.Weight
		}
	}
	if n := len(m.Indicators); n > 0 {
		sum.AvgWinRate = rateSum / float64(n)
	}
	if m.SampleCount > 0 {
		sum.Confidence = float64(m.Wins) / float64(m.SampleCount)
	}
	return sum
}

// Weight returns an indicator's calibrated contribution weight for a
// market; the epsilon floor when unseen.
func (c *Calibrator) Weight(key models.MarketKey, indicator string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.markets[key]; ok {
		if st, ok := m.Indicators[indicator]; ok {
			return st.Weight
		}
	}
	return epsilonWeight
}

// Views exports the per-market dashboard rows in stable order.
func (c *Calibrator) Views() []models.CalibrationView {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.CalibrationView, 0, len(models.AllMarketKeys()))
	for _, key := range models.AllMarketKeys() {
		m, ok := c.markets[key]
		view := models.CalibrationView{
			Asset:     key.Asset,
			Timeframe: key.Timeframe,
			Target:    c.cfg.WarmupTarget,
			Status:    models.CalibrationIdle,
		}
		if ok {
			view.SampleCount = m.SampleCount
			view.Status = m.Status
			view.ProgressPct = math.Min(float64(m.SampleCount)/float64(c.cfg.WarmupTarget)*100, 100)
			var rateSum float64
			for _, st := range m.Indicators {
				if st.Signals > 0 {
					view.IndicatorsActive++
					rateSum += st.WinRate
				}
			}
			if view.IndicatorsActive > 0 {
				view.AvgWinRate = rateSum / float64(view.IndicatorsActive)
			}
		}
		out = append(out, view)
	}
	return out
}

// checkpoint is the serialized calibrator shape. Indicator maps are
// flattened to sorted slices so snapshots are byte-stable.
type checkpoint struct {
	Markets []marketCheckpoint `json:"markets"`
}

type marketCheckpoint struct {
	Key         models.MarketKey         `json:"key"`
	SampleCount int                      `json:"sample_count"`
	Wins        int                      `json:"wins"`
	Losses      int                      `json:"losses"`
	Status      models.CalibrationStatus `json:"status"`
	LastUpdated int64                    `json:"last_updated"`
	Indicators  []models.IndicatorStats  `json:"indicators"`
}

// Snapshot serializes the full table deterministically.
func (c *Calibrator) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := checkpoint{Markets: make([]marketCheckpoint, 0, len(c.markets))}
	keys := make([]models.MarketKey, 0, len(c.markets))
	for key := range c.markets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, key := range keys {
		m := c.markets[key]
		mc := marketCheckpoint{
			Key:         key,
			SampleCount: m.SampleCount,
			Wins:        m.Wins,
			Losses:      m.Losses,
			Status:      m.Status,
			LastUpdated: m.LastUpdated,
		}
		names := make([]string, 0, len(m.Indicators))
		for name := range m.Indicators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			mc.Indicators = append(mc.Indicators, *m.Indicators[name])
		}
		cp.Markets = append(cp.Markets, mc)
	}

	b, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal calibrator checkpoint: %w", err)
	}
	return b, nil
}

// Restore replaces the table from a checkpoint.
func (c *Calibrator) Restore(b []byte) error {
	var cp checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return fmt.Errorf("unmarshal calibrator checkpoint: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.markets = make(map[models.MarketKey]*models.MarketCalibration, len(cp.Markets))
	for _, mc := range cp.Markets {
		m := &models.MarketCalibration{
			Key:         mc.Key,
			SampleCount: mc.SampleCount,
			Wins:        mc.Wins,
			Losses:      mc.Losses,
			Status:      mc.Status,
			LastUpdated: mc.LastUpdated,
			Indicators:  make(map[string]*models.IndicatorStats, len(mc.Indicators)),
		}
		for i := range mc.Indicators {
			st := mc.Indicators[i]
			m.Indicators[st.Name] = &st
		}
		c.markets[mc.Key] = m
	}
	return nil
}
