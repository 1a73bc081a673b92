package usecase

import (
	"context"
	"time"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
	"PolyBot/internal/services/candles"
	"PolyBot/internal/services/features"
	"PolyBot/pkg/logger"
)

// Warmup seeds the candle rings and replays the seeded candles into the
// feature engine before live ingestion starts. The whole fetch runs under
// one deadline; on timeout or error the pipeline starts cold rather than
// blocking startup.
type Warmup struct {
	history   repository.CandleHistory
	assembler *candles.Assembler
	engine    *features.Engine
	log       *logger.Logger
	count     int
	deadline  time.Duration
}

// NewWarmup creates the warm-up step.
func NewWarmup(history repository.CandleHistory, assembler *candles.Assembler, engine *features.Engine, log *logger.Logger, count int, deadline time.Duration) *Warmup {
	if count <= 0 {
		count = candles.DefaultHistory
	}
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Warmup{history: history, assembler: assembler, engine: engine, log: log, count: count, deadline: deadline}
}

// Run fetches history for every (asset, timeframe) and seeds the pipeline.
// Partial data is used as-is; missing keys just start cold.
func (w *Warmup) Run(ctx context.Context, assets []models.Asset, timeframes []models.Timeframe) {
	if w.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.deadline)
	defer cancel()

	for _, asset := range assets {
		for _, tf := range timeframes {
			cs, err := w.history.Fetch(ctx, asset, tf, w.count)
			if err != nil {
				if w.log != nil {
					w.log.Warn("warmup fetch failed, starting cold",
						logger.String("asset", string(asset)),
						logger.String("timeframe", string(tf)),
						logger.Error(err),
					)
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			seeded := w.assembler.Seed(cs)
			// Replay in ring order so incremental accumulators match what
			// a live run over the same candles would hold.
			for _, c := range w.assembler.Snapshot(asset, tf) {
				w.engine.Commit(c)
			}
			if w.log != nil {
				w.log.Info("warmup seeded",
					logger.String("asset", string(asset)),
					logger.String("timeframe", string(tf)),
					logger.Int("candles", seeded),
				)
			}
		}
	}
}
