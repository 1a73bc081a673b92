package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
	"PolyBot/internal/services/calibration"
	"PolyBot/internal/services/filters"
	"PolyBot/internal/services/ml"
	"PolyBot/internal/services/positions"
	"PolyBot/pkg/logger"
	"PolyBot/pkg/queue"
)

// State store keys for durable checkpoints.
const (
	KeyCalibratorState   = "calibrator_state"
	KeyPaperTradingState = "paper_trading_state"
	KeyTrainingWindow    = "training_window"
	KeyDailySummaries    = "daily_summaries"
)

const (
	jobCheckpoint   = "checkpoint"
	jobPublishTrade = "publish_trade"
	jobStoreTrade   = "store_trade"
	jobDailyRollup  = "daily_rollup"
)

type checkpointPayload struct {
	key  string
	data []byte
}

// TradeRecorder ingests closure events in the order positions reached
// Closed and drives every feedback path: per-market calibration, ensemble
// outcome accounting and weight adjustment, the training window and
// retraining, filter stats, durable checkpoints, and external fan-out.
type TradeRecorder struct {
	calibrator *calibration.Calibrator
	ensemble   *ml.Ensemble
	trainer    *ml.Trainer
	filters    *filters.Engine
	positions  *positions.Manager
	state      repository.StateStore
	publisher  repository.TradePublisher
	storage    repository.TradeStorage
	metrics    repository.Metrics
	log        *logger.Logger

	jobs *queue.Queue
}

// NewTradeRecorder wires the feedback loop. publisher and storage may be
// nil when the corresponding backends are disabled.
func NewTradeRecorder(
	calibrator *calibration.Calibrator,
	ensemble *ml.Ensemble,
	trainer *ml.Trainer,
	filterEngine *filters.Engine,
	posManager *positions.Manager,
	state repository.StateStore,
	publisher repository.TradePublisher,
	storage repository.TradeStorage,
	metrics repository.Metrics,
	log *logger.Logger,
) *TradeRecorder {
	r := &TradeRecorder{
		calibrator: calibrator,
		ensemble:   ensemble,
		trainer:    trainer,
		filters:    filterEngine,
		positions:  posManager,
		state:      state,
		publisher:  publisher,
		storage:    storage,
		metrics:    metrics,
		log:        log,
	}
	// Five total attempts per durable operation before demotion.
	r.jobs = queue.New(queue.Config{Workers: 2, QueueSize: 512, RetryLimit: 4}, r.handleJob)
	r.jobs.OnDrop(func(msg *queue.Message, err error) {
		// Exhausted retries demote the operation: the in-memory state
		// remains authoritative and the failure is surfaced, never
		// silently swallowed.
		metrics.RecordError("job_demoted_" + msg.Type)
		if log != nil {
			log.Warn("durable operation demoted after retries",
				logger.String("job", msg.Type), logger.Error(err))
		}
	})
	return r
}

// Start launches the background persistence workers.
func (r *TradeRecorder) Start(ctx context.Context) { r.jobs.Start(ctx) }

// Stop drains and stops the persistence workers.
func (r *TradeRecorder) Stop() { r.jobs.Close() }

// OnTradesClosed processes closures in order. Weight adjustment (every 10th
// closure) runs before retraining (every 50th) when both land on the same
// trade.
func (r *TradeRecorder) OnTradesClosed(ctx context.Context, trades []models.Trade) {
	for i := range trades {
		r.onTradeClosed(ctx, &trades[i])
	}
}

func (r *TradeRecorder) onTradeClosed(ctx context.Context, t *models.Trade) {
	// The realized market outcome, independent of which side we took.
	outcomeUp := (t.Direction == models.DirectionUp) == t.Win

	r.calibrator.RecordTrade(t)
	if len(t.SubmodelProbs) > 0 {
		// RecordOutcome also re-derives the vote weights on its interval;
		// this must precede the trainer so a same-closure retrain sees
		// the adjusted weights.
		r.ensemble.RecordOutcome(t.SubmodelProbs, outcomeUp)
	}
	r.filters.RecordOutcome(t.Win)

	if len(t.EntryVector) == models.NumFeatures {
		sample := ml.Sample{TS: t.ClosedAt, Up: outcomeUp}
		copy(sample.Vector[:], t.EntryVector)
		copy(sample.Mask[:], t.EntryMask)
		if _, err := r.trainer.OnTradeClosed(sample, t.ClosedAt); err != nil {
			r.metrics.RecordError("retrain")
			if r.log != nil {
				r.log.Error("retraining failed", logger.Error(err))
			}
		}
	}

	r.enqueueCheckpoints(ctx)
	r.enqueue(ctx, jobPublishTrade, *t)
	r.enqueue(ctx, jobStoreTrade, *t)
	r.enqueue(ctx, jobDailyRollup, nil)
}

func (r *TradeRecorder) enqueueCheckpoints(ctx context.Context) {
	if cp, err := r.calibrator.Snapshot(); err == nil {
		r.enqueue(ctx, jobCheckpoint, checkpointPayload{key: KeyCalibratorState, data: cp})
	} else {
		r.metrics.RecordError("checkpoint_snapshot")
	}
	if st, err := r.positions.SnapshotState(); err == nil {
		r.enqueue(ctx, jobCheckpoint, checkpointPayload{key: KeyPaperTradingState, data: st})
	}
	if b, err := json.Marshal(r.positions.DailySummaries()); err == nil {
		r.enqueue(ctx, jobCheckpoint, checkpointPayload{key: KeyDailySummaries, data: b})
	}
	if b, err := json.Marshal(r.trainer.Dataset().Snapshot()); err == nil {
		r.enqueue(ctx, jobCheckpoint, checkpointPayload{key: KeyTrainingWindow, data: b})
	}
}

func (r *TradeRecorder) enqueue(ctx context.Context, kind string, payload interface{}) {
	if err := r.jobs.Enqueue(ctx, kind, payload); err != nil {
		r.metrics.RecordError("job_enqueue")
	}
}

func (r *TradeRecorder) handleJob(ctx context.Context, msg *queue.Message) error {
	switch msg.Type {
	case jobCheckpoint:
		p, ok := msg.Payload.(checkpointPayload)
		if !ok {
			return fmt.Errorf("checkpoint payload type %T", msg.Payload)
		}
		return r.state.Save(ctx, p.key, p.data)
	case jobPublishTrade:
		if r.publisher == nil {
			return nil
		}
		t, ok := msg.Payload.(models.Trade)
		if !ok {
			return fmt.Errorf("trade payload type %T", msg.Payload)
		}
		return r.publisher.PublishTrade(ctx, &t)
	case jobStoreTrade:
		if r.storage == nil {
			return nil
		}
		t, ok := msg.Payload.(models.Trade)
		if !ok {
			return fmt.Errorf("trade payload type %T", msg.Payload)
		}
		return r.storage.InsertTrade(ctx, &t)
	case jobDailyRollup:
		if r.storage == nil {
			return nil
		}
		for _, s := range r.positions.DailySummaries() {
			summary := s
			if err := r.storage.UpsertDailySummary(ctx, &summary); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown job type %q", msg.Type)
	}
}

// RestoreState loads the last good checkpoints. A corrupt checkpoint is an
// error the caller maps to exit code 3; a missing one starts fresh.
func (r *TradeRecorder) RestoreState(ctx context.Context) error {
	if b, ok, err := r.state.Load(ctx, KeyCalibratorState); err != nil {
		return fmt.Errorf("load calibrator state: %w", err)
	} else if ok {
		if err := r.calibrator.Restore(b); err != nil {
			return fmt.Errorf("calibrator state corrupt: %w", err)
		}
	}
	if b, ok, err := r.state.Load(ctx, KeyPaperTradingState); err != nil {
		return fmt.Errorf("load paper state: %w", err)
	} else if ok {
		if err := r.positions.Restore(b); err != nil {
			return fmt.Errorf("paper state corrupt: %w", err)
		}
	}
	if b, ok, err := r.state.Load(ctx, KeyTrainingWindow); err != nil {
		return fmt.Errorf("load training window: %w", err)
	} else if ok {
		var samples []ml.Sample
		if err := json.Unmarshal(b, &samples); err != nil {
			return fmt.Errorf("training window corrupt: %w", err)
		}
		r.trainer.Dataset().Restore(samples)
		if err := r.trainer.FitInitial(); err != nil {
			r.metrics.RecordError("initial_fit")
			if r.log != nil {
				r.log.Error("initial fit failed, running untrained", logger.Error(err))
			}
		}
	}
	return nil
}

// PersistOnShutdown flushes final checkpoints synchronously.
func (r *TradeRecorder) PersistOnShutdown(ctx context.Context) error {
	cp, err := r.calibrator.Snapshot()
	if err != nil {
		return err
	}
	if err := r.state.Save(ctx, KeyCalibratorState, cp); err != nil {
		return fmt.Errorf("persist calibrator: %w", err)
	}
	st, err := r.positions.Shutdown()
	if err != nil {
		return err
	}
	if err := r.state.Save(ctx, KeyPaperTradingState, st); err != nil {
		return fmt.Errorf("persist paper state: %w", err)
	}
	return nil
}
