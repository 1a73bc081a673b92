package markets

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
	"PolyBot/pkg/logger"
)

// Registry caches the live market per (asset, timeframe) and refreshes it
// periodically through a rate-limited fetcher.
type Registry struct {
	fetcher  repository.MarketFetcher
	interval time.Duration
	limiter  *rate.Limiter
	log      *logger.Logger

	mu      sync.RWMutex
	markets map[models.MarketKey]models.Market
}

// New creates a registry refreshing every interval, with fetches capped at
// requestsPerMin upstream calls.
func New(fetcher repository.MarketFetcher, interval time.Duration, requestsPerMin int, log *logger.Logger) *Registry {
	if interval <= 0 {
		interval = time.Minute
	}
	if requestsPerMin <= 0 {
		requestsPerMin = 30
	}
	return &Registry{
		fetcher:  fetcher,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(float64(requestsPerMin)/60), 1),
		log:      log,
		markets:  make(map[models.MarketKey]models.Market),
	}
}

// Run refreshes until the context is cancelled. The first refresh happens
// immediately so the pipeline does not start without expiry schedules.
func (r *Registry) Run(ctx context.Context) {
	r.refresh(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Registry) refresh(ctx context.Context) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	ms, err := r.fetcher.FetchMarkets(ctx)
	if err != nil {
		if r.log != nil {
			r.log.Warn("market registry refresh failed", logger.Error(err))
		}
		return
	}

	r.mu.Lock()
	for _, m := range ms {
		if !m.Active {
			continue
		}
		key := models.MarketKey{Asset: m.Asset, Timeframe: m.Timeframe}
		// Keep the earliest-closing active market per key; that is the
		// one currently trading.
		if cur, ok := r.markets[key]; ok && cur.Active && cur.CloseTS > 0 && cur.CloseTS <= m.CloseTS && cur.CloseTS > nowMs() {
			continue
		}
		r.markets[key] = m
	}
	r.mu.Unlock()

	if r.log != nil {
		r.log.Debug("market registry refreshed", logger.Int("markets", len(ms)))
	}
}

// Get returns the live market for a key.
func (r *Registry) Get(key models.MarketKey) (models.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[key]
	return m, ok
}

func nowMs() int64 { return time.Now().UnixMilli() }
