package repository

import (
	"context"
	"time"

	"PolyBot/internal/domain/models"
)

// TickStream is one exchange price feed. Adapters deliver ticks in
// per-source timestamp order; everything else is the router's problem.
type TickStream interface {
	Source() models.Source
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// CandleHistory provides closed historical candles for warm-up seeding.
type CandleHistory interface {
	Fetch(ctx context.Context, asset models.Asset, tf models.Timeframe, count int) ([]models.Candle, error)
}

// MarketFetcher resolves the currently live market per (asset, timeframe).
type MarketFetcher interface {
	FetchMarkets(ctx context.Context) ([]models.Market, error)
}

// OrderGateway submits and cancels prediction-market orders. The simulator
// implements the same interface and fills at the current mid.
type OrderGateway interface {
	Submit(ctx context.Context, req models.OrderRequest) (orderID string, err error)
	Cancel(ctx context.Context, orderID string) error
}

// StateStore is opaque durable key-value persistence for checkpoints.
type StateStore interface {
	Load(ctx context.Context, key string) (b []byte, ok bool, err error)
	Save(ctx context.Context, key string, b []byte) error
}

// TradePublisher fans closed trades out to external consumers.
type TradePublisher interface {
	PublishTrade(ctx context.Context, t *models.Trade) error
	Close() error
}

// TradeStorage persists closed trades and daily summaries durably.
type TradeStorage interface {
	Init(ctx context.Context) error
	InsertTrade(ctx context.Context, t *models.Trade) error
	UpsertDailySummary(ctx context.Context, s *models.DailySummary) error
	QueryTrades(ctx context.Context, asset models.Asset, from, to time.Time, limit int) ([]models.Trade, error)
	Close() error
}

// Metrics is the process-wide diagnostics recorder.
type Metrics interface {
	RecordTick(source, asset string)
	RecordCandleClosed(asset, timeframe string)
	RecordFilterReject(reason string)
	RecordPrediction(asset, timeframe string)
	RecordTradeClosed(reason string, win bool)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(asset string, price float64)
	SetOpenPositions(n int)
	SetExposure(usdc float64)
}
