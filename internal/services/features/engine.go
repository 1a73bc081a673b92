package features

import (
	"math"
	"time"

	"PolyBot/internal/domain/models"
	"PolyBot/pkg/logger"
)

const (
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	bbPeriod       = 20
	bbMult         = 2.0
	atrPeriod      = 14
	adxPeriod      = 14
	stochRSIPeriod = 14
	momentumLookback = 10
	volPeriod      = 20
	closesKeep     = 64
	rsiHistKeep    = 50
	percentileKeep = 1000
	corrWindow     = 15
	corrHistKeep   = 32
)

// MarketContext carries the non-candle inputs for one compute cycle.
type MarketContext struct {
	// NowMs is the tick-time reference for temporal features.
	NowMs int64
	// MarketCloseTS is the scheduled resolution of the live market, 0 when
	// the registry has no market for the key.
	MarketCloseTS int64
	Calibration   models.CalibrationSummary
}

// keyState is the incremental indicator state for one (asset, timeframe).
// Indicator accumulators advance only when a candle closes, so replaying the
// same candle sequence reproduces bit-identical indicator values. The spread
// and correlation reference histories also grow on every Compute call.
type keyState struct {
	closeCount int
	closes     []float64
	prevClose  float64

	// Wilder RSI.
	rsiSeeded bool
	avgGain   float64
	avgLoss   float64
	rsiHist   []float64

	// MACD.
	emaFast    float64
	emaSlow    float64
	signalEMA   float64
	signalSeen  int
	curHist     float64
	prevHist    float64
	hasPrevHist bool

	// Bollinger squeeze reference.
	widthHist []float64

	// Wilder ATR.
	atr      float64
	trCount  int
	trSum    float64

	// Wilder ADX.
	smTR      float64
	smPlusDM  float64
	smMinusDM float64
	dmCount   int
	adx       float64
	dxCount   int
	plusDI    float64
	minusDI   float64
	lastHigh  float64
	lastLow   float64
	hasHL     bool

	// Session VWAP, reset at UTC midnight.
	vwapDay string
	sumPV   float64
	sumVol  float64

	// Momentum chain, each level lagged one close behind the next.
	lastMomentum float64
	hasLastMom   bool
	prevMomentum float64
	hasPrevMom   bool
	lastVelocity float64
	hasLastVel   bool
	prevVelocity float64
	hasPrevVel   bool

	// Percentile references.
	volHist    []float64
	spreadHist []float64

	// Correlation history (BTC/ETH pairs only).
	corrHist []float64
}

// Engine computes the 50-field feature record incrementally. It exclusively
// owns all cross-candle indicator state.
type Engine struct {
	log   *logger.Logger
	state map[models.MarketKey]*keyState
}

// New creates a feature engine.
func New(log *logger.Logger) *Engine {
	return &Engine{log: log, state: make(map[models.MarketKey]*keyState)}
}

func (e *Engine) keyState(key models.MarketKey) *keyState {
	s, ok := e.state[key]
	if !ok {
		s = &keyState{}
		e.state[key] = s
	}
	return s
}

// Commit folds one closed candle into the incremental accumulators. Warm-up
// seeding and live closes go through the same path so restart rebuilds are
// deterministic.
func (e *Engine) Commit(c models.Candle) {
	key := models.MarketKey{Asset: c.Asset, Timeframe: c.Timeframe}
	s := e.keyState(key)

	prevClose := s.prevClose
	hadPrev := s.closeCount > 0

	s.closeCount++
	s.closes = appendBounded(s.closes, c.Close, closesKeep)

	// RSI, Wilder smoothing. Seed with a simple average over the first
	// full period of changes, then recursive averages.
	if hadPrev {
		change := c.Close - prevClose
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		if !s.rsiSeeded {
			s.avgGain += gain
			s.avgLoss += loss
			if s.closeCount >= rsiPeriod+1 {
				s.avgGain /= rsiPeriod
				s.avgLoss /= rsiPeriod
				s.rsiSeeded = true
			}
		} else {
			s.avgGain = (s.avgGain*(rsiPeriod-1) + gain) / rsiPeriod
			s.avgLoss = (s.avgLoss*(rsiPeriod-1) + loss) / rsiPeriod
		}
		if s.rsiSeeded {
			s.rsiHist = appendBounded(s.rsiHist, wilderRSI(s.avgGain, s.avgLoss), rsiHistKeep)
		}
	}

	// MACD EMAs run from the first close; values are reported only once
	// the slow period has filled.
	if s.closeCount == 1 {
		s.emaFast = c.Close
		s.emaSlow = c.Close
	} else {
		s.emaFast = emaStep(s.emaFast, c.Close, macdFast)
		s.emaSlow = emaStep(s.emaSlow, c.Close, macdSlow)
	}
	if s.closeCount >= macdSlow {
		macd := s.emaFast - s.emaSlow
		if s.signalSeen == 0 {
			s.signalEMA = macd
		} else {
			s.signalEMA = emaStep(s.signalEMA, macd, macdSignal)
		}
		s.signalSeen++
		if s.signalSeen > 1 {
			s.prevHist = s.curHist
			s.hasPrevHist = true
		}
		s.curHist = macd - s.signalEMA
	}

	// Bollinger width history for the squeeze reference.
	if u, m, l, ok := bollinger(s.closes, bbPeriod, bbMult); ok && m != 0 {
		s.widthHist = appendBounded(s.widthHist, (u-l)/m, bbPeriod)
	}

	// ATR, Wilder smoothing over true range.
	if hadPrev {
		tr := trueRange(c.High, c.Low, prevClose)
		if s.trCount < atrPeriod {
			s.trSum += tr
			s.trCount++
			if s.trCount == atrPeriod {
				s.atr = s.trSum / atrPeriod
			}
		} else {
			s.atr = (s.atr*(atrPeriod-1) + tr) / atrPeriod
			s.trCount++
		}
	}

	// ADX, Wilder directional movement.
	if hadPrev {
		e.commitADX(s, c, prevClose)
	}

	// Session VWAP.
	day := time.UnixMilli(c.OpenTS).UTC().Format("2006-01-02")
	if day != s.vwapDay {
		s.vwapDay = day
		s.sumPV = 0
		s.sumVol = 0
	}
	typical := (c.High + c.Low + c.Close) / 3
	vol := c.Volume
	if vol <= 0 {
		// Tick-built candles carry no venue volume; weight by trade count
		// so the session VWAP still accumulates.
		vol = float64(c.Trades)
	}
	s.sumPV += typical * vol
	s.sumVol += vol

	// Momentum chain over closes.
	if mom, ok := momentum(s.closes, momentumLookback); ok {
		if s.hasLastMom {
			s.prevMomentum = s.lastMomentum
			s.hasPrevMom = true
		}
		s.lastMomentum = mom
		s.hasLastMom = true
		if s.hasPrevMom {
			vel := s.lastMomentum - s.prevMomentum
			if s.hasLastVel {
				s.prevVelocity = s.lastVelocity
				s.hasPrevVel = true
			}
			s.lastVelocity = vel
			s.hasLastVel = true
		}
	}

	// Volatility percentile reference.
	if v, ok := stdReturns(s.closes, volPeriod); ok {
		s.volHist = appendBounded(s.volHist, v, percentileKeep)
	}

	s.prevClose = c.Close
}

func (e *Engine) commitADX(s *keyState, c models.Candle, prevClose float64) {
	if !s.hasHL {
		s.lastHigh = c.High
		s.lastLow = c.Low
		s.hasHL = true
		return
	}

	up := c.High - s.lastHigh
	down := s.lastLow - c.Low
	plusDM, minusDM := 0.0, 0.0
	if up > down && up > 0 {
		plusDM = up
	}
	if down > up && down > 0 {
		minusDM = down
	}
	tr := trueRange(c.High, c.Low, prevClose)

	if s.dmCount < adxPeriod {
		s.smTR += tr
		s.smPlusDM += plusDM
		s.smMinusDM += minusDM
		s.dmCount++
	} else {
		s.smTR = s.smTR - s.smTR/adxPeriod + tr
		s.smPlusDM = s.smPlusDM - s.smPlusDM/adxPeriod + plusDM
		s.smMinusDM = s.smMinusDM - s.smMinusDM/adxPeriod + minusDM
		s.dmCount++
	}

	if s.dmCount >= adxPeriod && s.smTR > 0 {
		s.plusDI = 100 * s.smPlusDM / s.smTR
		s.minusDI = 100 * s.smMinusDM / s.smTR
		if sum := s.plusDI + s.minusDI; sum > 0 {
			dx := 100 * math.Abs(s.plusDI-s.minusDI) / sum
			if s.dxCount == 0 {
				s.adx = dx
			} else {
				s.adx = (s.adx*(adxPeriod-1) + dx) / adxPeriod
			}
			s.dxCount++
		}
	}

	s.lastHigh = c.High
	s.lastLow = c.Low
}

// Compute produces one Features record from the current snapshot. It always
// returns a record; missing indicators are nil, never zero.
func (e *Engine) Compute(snapshot []models.Candle, micro *models.Microstructure, mctx MarketContext) *models.Features {
	f := &models.Features{ComputedTS: mctx.NowMs, Regime: models.RegimeRanging}
	if len(snapshot) == 0 {
		return f
	}

	last := snapshot[len(snapshot)-1]
	key := models.MarketKey{Asset: last.Asset, Timeframe: last.Timeframe}
	s := e.keyState(key)

	f.Asset = last.Asset
	f.Timeframe = last.Timeframe
	f.Close = last.Close
	f.CandleCount = s.closeCount

	e.computeTechnicals(s, f)
	e.computeMomentum(s, f)
	e.computeMicrostructure(s, f, micro)
	e.computeTemporal(f, last, mctx)
	e.computeContext(s, f, key)
	e.computeCalibrator(f, mctx.Calibration)

	f.Regime = detectRegime(f, s)

	// Both core indicators missing despite enough history means the
	// feedback loop is broken, not that data is short. Still emit.
	if f.RSI == nil && f.MACD == nil && s.closeCount >= macdSlow+1 && e.log != nil {
		e.log.Warn("features computed but RSI and MACD are nil, sending anyway",
			logger.String("asset", string(f.Asset)),
			logger.String("timeframe", string(f.Timeframe)),
			logger.Int("candles", s.closeCount),
		)
	}

	return f
}

func (e *Engine) computeTechnicals(s *keyState, f *models.Features) {
	if s.rsiSeeded {
		rsi := wilderRSI(s.avgGain, s.avgLoss)
		f.RSI = models.Ptr(rsi)
		f.RSINorm = models.Ptr((rsi - 50) / 50)
	}

	if s.closeCount >= macdSlow && s.signalSeen > 0 {
		macd := s.emaFast - s.emaSlow
		hist := macd - s.signalEMA
		f.MACD = models.Ptr(macd)
		f.MACDSignal = models.Ptr(s.signalEMA)
		f.MACDHist = models.Ptr(hist)
		if s.hasPrevHist {
			f.MACDHistSlope = models.Ptr(hist - s.prevHist)
		}
	}

	if u, m, l, ok := bollinger(s.closes, bbPeriod, bbMult); ok {
		width := 0.0
		if m != 0 {
			width = (u - l) / m
			f.BBWidth = models.Ptr(width)
		}
		if span := u - l; span > 0 {
			pos := (f.Close - l) / span
			f.BBPosition = models.Ptr(clamp(pos, -0.5, 1.5))
		}
		if len(s.widthHist) >= bbPeriod && f.BBWidth != nil {
			squeeze := 0.0
			if width <= minOf(s.widthHist)*1.1 {
				squeeze = 1.0
			}
			f.BBSqueeze = models.Ptr(squeeze)
		}
	}

	if s.dxCount > 0 {
		f.ADX = models.Ptr(s.adx)
		f.PlusDI = models.Ptr(s.plusDI)
		f.MinusDI = models.Ptr(s.minusDI)
		f.TrendStrength = models.Ptr(s.adx * (s.plusDI - s.minusDI) / 100)
	}

	if s.trCount >= atrPeriod && f.Close > 0 {
		f.ATRPct = models.Ptr(s.atr / f.Close)
	}
}

func (e *Engine) computeMomentum(s *keyState, f *models.Features) {
	if s.hasLastMom {
		f.Momentum = models.Ptr(s.lastMomentum)
	}
	if s.hasLastVel {
		f.Velocity = models.Ptr(s.lastVelocity)
		if s.hasPrevVel {
			f.Acceleration = models.Ptr(s.lastVelocity - s.prevVelocity)
		}
	}

	if len(s.rsiHist) >= stochRSIPeriod {
		window := s.rsiHist[len(s.rsiHist)-stochRSIPeriod:]
		lo, hi := minOf(window), maxOf(window)
		if span := hi - lo; span > 0 {
			sr := (window[len(window)-1] - lo) / span
			f.StochRSI = models.Ptr(sr)
			f.StochRSIOverbought = models.Ptr(boolFeature(sr > 0.8))
			f.StochRSIOversold = models.Ptr(boolFeature(sr < 0.2))
		} else {
			f.StochRSI = models.Ptr(0.5)
			f.StochRSIOverbought = models.Ptr(0.0)
			f.StochRSIOversold = models.Ptr(0.0)
		}
	}

	if s.sumVol > 0 && f.Close > 0 {
		vwap := s.sumPV / s.sumVol
		if vwap > 0 {
			f.VWAPDeviation = models.Ptr((f.Close - vwap) / vwap)
		}
	}

	if v, ok := stdReturns(s.closes, volPeriod); ok {
		f.Volatility = models.Ptr(v)
		f.VolatilityPct = models.Ptr(percentile(s.volHist, v))
	}
}

func (e *Engine) computeMicrostructure(s *keyState, f *models.Features, micro *models.Microstructure) {
	if micro == nil || !micro.Present {
		return
	}
	f.MicrostructurePresent = true
	if micro.SpreadBps != nil {
		f.SpreadBps = models.Ptr(*micro.SpreadBps)
		s.spreadHist = appendBounded(s.spreadHist, *micro.SpreadBps, percentileKeep)
		f.SpreadPercentile = models.Ptr(percentile(s.spreadHist, *micro.SpreadBps))
	}
	if micro.BookImbalance != nil {
		f.BookImbalance = models.Ptr(*micro.BookImbalance)
		f.MarketSentiment = models.Ptr(*micro.BookImbalance)
	}
	if micro.DepthTop5USDC != nil {
		f.DepthTop5 = models.Ptr(*micro.DepthTop5USDC)
		f.LiquidityConcentration = models.Ptr(math.Min(*micro.DepthTop5USDC/1000, 1))
	}
	if micro.TradesPerMin != nil {
		f.TradeIntensity = models.Ptr(*micro.TradesPerMin)
		f.TradeIntensityZ = models.Ptr(0.0)
	}
	if micro.OrderFlowDelta != nil {
		f.OrderFlowImbalance = models.Ptr(*micro.OrderFlowDelta)
	}
}

func (e *Engine) computeTemporal(f *models.Features, last models.Candle, mctx MarketContext) {
	now := time.UnixMilli(mctx.NowMs).UTC()

	hour := float64(now.Hour()) + float64(now.Minute())/60
	f.HourSin = models.Ptr(math.Sin(hour / 24 * 2 * math.Pi))
	f.HourCos = models.Ptr(math.Cos(hour / 24 * 2 * math.Pi))
	day := float64(now.Weekday())
	f.DaySin = models.Ptr(math.Sin(day / 7 * 2 * math.Pi))
	f.DayCos = models.Ptr(math.Cos(day / 7 * 2 * math.Pi))
	f.IsWeekend = models.Ptr(boolFeature(now.Weekday() == time.Saturday || now.Weekday() == time.Sunday))

	if mctx.MarketCloseTS > 0 {
		f.MinutesToClose = models.Ptr(float64(mctx.MarketCloseTS-mctx.NowMs) / 60000)
	}

	durMs := last.Timeframe.DurationSecs() * 1000
	if durMs > 0 {
		progress := float64(mctx.NowMs-last.OpenTS) / float64(durMs)
		f.WindowProgress = models.Ptr(clamp(progress, 0, 1))
	}
}

func (e *Engine) computeContext(s *keyState, f *models.Features, key models.MarketKey) {
	// BTC/ETH correlation over close-to-close returns at the same
	// timeframe. Both series live in this engine, so no cross-component
	// state is needed.
	btc := e.state[models.MarketKey{Asset: models.AssetBTC, Timeframe: key.Timeframe}]
	eth := e.state[models.MarketKey{Asset: models.AssetETH, Timeframe: key.Timeframe}]
	if btc != nil && eth != nil {
		if corr, ok := rollingCorrelation(btc.closes, eth.closes, corrWindow); ok {
			f.BTCETHCorrelation = models.Ptr(corr)
			s.corrHist = appendBounded(s.corrHist, corr, corrHistKeep)
			if len(s.corrHist) >= 10 {
				f.CorrelationChange = models.Ptr(corr - s.corrHist[len(s.corrHist)-10])
			}
		}
	}
}

func (e *Engine) computeCalibrator(f *models.Features, cal models.CalibrationSummary) {
	if cal.Status == models.CalibrationIdle || cal.Status == "" {
		return
	}
	f.CalibratorConfidence = models.Ptr(cal.Confidence)
	f.IndicatorsAgreeing = models.Ptr(float64(cal.Agreeing))
	f.IndicatorsAvgWinRate = models.Ptr(cal.AvgWinRate)
	f.BullishWeight = models.Ptr(cal.BullishWeight)
	f.BearishWeight = models.Ptr(cal.BearishWeight)
}

func detectRegime(f *models.Features, s *keyState) models.Regime {
	if f.ADX != nil && *f.ADX > 25 {
		return models.RegimeTrending
	}
	if f.Volatility != nil && len(s.volHist) >= volPeriod {
		avg := mean(s.volHist)
		if avg > 0 && *f.Volatility > avg*1.5 {
			return models.RegimeVolatile
		}
	}
	return models.RegimeRanging
}
