package candles

import (
	"fmt"
	"sync"

	"PolyBot/internal/domain/models"
)

// DefaultHistory is the ring size per (asset, timeframe).
const DefaultHistory = 200

// Update describes what one tick did to a (asset, timeframe) series.
type Update struct {
	Asset     models.Asset
	Timeframe models.Timeframe
	// Closed is the candle finalized by this tick, if the tick rolled the
	// bucket.
	Closed *models.Candle
	// Snapshot is closed history plus the forming candle, chronological.
	Snapshot []models.Candle
}

// Assembler builds rolling OHLCV candles from the tick stream. It owns the
// candle rings exclusively; callers interact only through OnTick, Seed and
// Snapshot.
type Assembler struct {
	mu         sync.Mutex
	history    map[models.MarketKey][]models.Candle
	current    map[models.MarketKey]*models.Candle
	maxHistory int
	// lastPublished guards the monotonic open_ts publication invariant.
	lastPublished map[models.MarketKey]int64
}

// New creates an assembler keeping maxHistory closed candles per key.
func New(maxHistory int) *Assembler {
	if maxHistory <= 0 {
		maxHistory = DefaultHistory
	}
	return &Assembler{
		history:       make(map[models.MarketKey][]models.Candle),
		current:       make(map[models.MarketKey]*models.Candle),
		maxHistory:    maxHistory,
		lastPublished: make(map[models.MarketKey]int64),
	}
}

// Seed loads historical closed candles fetched before live ingestion. Out of
// order or misaligned candles are dropped.
func (a *Assembler) Seed(cs []models.Candle) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	seeded := 0
	for _, c := range cs {
		if !c.Valid() {
			continue
		}
		key := models.MarketKey{Asset: c.Asset, Timeframe: c.Timeframe}
		h := a.history[key]
		if len(h) > 0 && c.OpenTS <= h[len(h)-1].OpenTS {
			continue
		}
		a.history[key] = a.appendBounded(h, c)
		seeded++
	}
	return seeded
}

// OnTick folds one tick into every configured timeframe for its asset and
// returns one Update per timeframe. Price is the consensus mid when present,
// the source mid otherwise.
func (a *Assembler) OnTick(t *models.Tick, timeframes []models.Timeframe) ([]Update, error) {
	price := t.ConsensusMid
	if price <= 0 {
		price = t.Mid
	}
	if price <= 0 {
		return nil, fmt.Errorf("tick for %s has no usable price", t.Asset)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	updates := make([]Update, 0, len(timeframes))
	for _, tf := range timeframes {
		key := models.MarketKey{Asset: t.Asset, Timeframe: tf}
		bucket := tf.BucketStart(t.TS)

		var closed *models.Candle
		cur := a.current[key]
		switch {
		case cur == nil:
			a.current[key] = a.openCandle(t.Asset, tf, bucket, price)
		case bucket > cur.OpenTS:
			done := *cur
			a.history[key] = a.appendBounded(a.history[key], done)
			closed = &done
			a.current[key] = a.openCandle(t.Asset, tf, bucket, price)
		case bucket < cur.OpenTS:
			// Late tick from a slower source; the bucket already rolled.
			continue
		default:
			if price > cur.High {
				cur.High = price
			}
			if price < cur.Low {
				cur.Low = price
			}
			cur.Close = price
			cur.Trades++
		}

		snap := a.snapshotLocked(key)
		if n := len(snap); n > 0 {
			if last := a.lastPublished[key]; snap[n-1].OpenTS < last {
				return nil, fmt.Errorf("candle snapshot for %s went backwards: %d < %d", key, snap[n-1].OpenTS, last)
			}
			a.lastPublished[key] = snap[n-1].OpenTS
		}
		updates = append(updates, Update{Asset: t.Asset, Timeframe: tf, Closed: closed, Snapshot: snap})
	}
	return updates, nil
}

// Snapshot returns closed history plus the forming candle, chronological.
func (a *Assembler) Snapshot(asset models.Asset, tf models.Timeframe) []models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked(models.MarketKey{Asset: asset, Timeframe: tf})
}

// ClosedCount returns how many closed candles are retained for a key.
func (a *Assembler) ClosedCount(asset models.Asset, tf models.Timeframe) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history[models.MarketKey{Asset: asset, Timeframe: tf}])
}

// FinalizeAll force-closes every forming candle, e.g. on shutdown.
func (a *Assembler) FinalizeAll() []models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.Candle, 0, len(a.current))
	for key, cur := range a.current {
		done := *cur
		a.history[key] = a.appendBounded(a.history[key], done)
		out = append(out, done)
		delete(a.current, key)
	}
	return out
}

func (a *Assembler) openCandle(asset models.Asset, tf models.Timeframe, bucket int64, price float64) *models.Candle {
	return &models.Candle{
		Asset:     asset,
		Timeframe: tf,
		OpenTS:    bucket,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Trades:    1,
	}
}

func (a *Assembler) appendBounded(h []models.Candle, c models.Candle) []models.Candle {
	h = append(h, c)
	if len(h) > a.maxHistory {
		h = h[len(h)-a.maxHistory:]
	}
	return h
}

func (a *Assembler) snapshotLocked(key models.MarketKey) []models.Candle {
	h := a.history[key]
	out := make([]models.Candle, 0, len(h)+1)
	out = append(out, h...)
	if cur := a.current[key]; cur != nil {
		out = append(out, *cur)
	}
	return out
}
