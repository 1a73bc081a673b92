package ml

import (
	"fmt"

	"PolyBot/pkg/logger"
)

// TrainerConfig parameterizes retraining cadence and acceptance.
type TrainerConfig struct {
	RetrainIntervalTrades int
	MinTrainSamples       int
	// Hysteresis is how far below current rolling accuracy a candidate's
	// validation accuracy may fall and still be accepted.
	Hysteresis float64
	TrainFrac  float64
}

// DefaultTrainerConfig mirrors the documented defaults.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		RetrainIntervalTrades: 50,
		MinTrainSamples:       120,
		Hysteresis:            0.02,
		TrainFrac:             0.8,
	}
}

// RetrainResult reports one retraining pass.
type RetrainResult struct {
	Ran      bool
	Accepted map[string]bool
	ValAcc   map[string]float64
}

// Trainer owns the sliding training window and the walk-forward retraining
// gate. Candidate submodels replace live ones only when validation accuracy
// clears the hysteresis band.
type Trainer struct {
	cfg TrainerConfig
	ens *Ensemble
	ds  *Dataset
	log *logger.Logger

	closedSinceRetrain int
	retrainCount       int
	lastRetrainTS      int64
}

// NewTrainer creates a trainer bound to an ensemble and dataset.
func NewTrainer(cfg TrainerConfig, ens *Ensemble, ds *Dataset, log *logger.Logger) *Trainer {
	return &Trainer{cfg: cfg, ens: ens, ds: ds, log: log}
}

// OnTradeClosed adds a labeled sample and retrains on the configured
// cadence. nowMs stamps the retrain time.
func (t *Trainer) OnTradeClosed(s Sample, nowMs int64) (RetrainResult, error) {
	t.ds.Add(s)
	t.closedSinceRetrain++
	if t.closedSinceRetrain < t.cfg.RetrainIntervalTrades {
		return RetrainResult{}, nil
	}
	t.closedSinceRetrain = 0
	return t.Retrain(nowMs)
}

// Retrain runs one walk-forward pass: chronological 80/20 split, fresh
// candidate per submodel, accept per submodel with hysteresis against its
// rolling live accuracy.
func (t *Trainer) Retrain(nowMs int64) (RetrainResult, error) {
	samples := t.ds.Snapshot()
	if len(samples) < t.cfg.MinTrainSamples {
		if t.log != nil {
			t.log.Debug("retrain skipped, window too small",
				logger.Int("samples", len(samples)),
				logger.Int("required", t.cfg.MinTrainSamples),
			)
		}
		return RetrainResult{}, nil
	}

	train, valid := split(samples, t.cfg.TrainFrac)
	xs, ys := toMatrix(train)

	result := RetrainResult{
		Ran:      true,
		Accepted: make(map[string]bool, len(kindOrder)),
		ValAcc:   make(map[string]float64, len(kindOrder)),
	}

	for _, kind := range kindOrder {
		candidate := newSubmodel(kind, t.retrainCount)
		if err := candidate.Fit(xs, ys); err != nil {
			return result, fmt.Errorf("retrain %s: %w", kind, err)
		}
		valAcc := accuracy(candidate, valid)
		result.ValAcc[kind] = valAcc

		current := t.ens.RollingAccuracy(kind)
		if valAcc >= current-t.cfg.Hysteresis {
			if err := t.ens.ReplaceSubmodel(kind, candidate); err != nil {
				return result, err
			}
			result.Accepted[kind] = true
		} else if t.log != nil {
			t.log.Warn("retrained submodel rejected by hysteresis gate",
				logger.String("submodel", kind),
				logger.Any("validation_accuracy", valAcc),
				logger.Any("rolling_accuracy", current),
			)
		}
	}

	t.retrainCount++
	t.lastRetrainTS = nowMs
	if t.log != nil {
		t.log.Info("retraining pass complete",
			logger.Int("train_samples", len(train)),
			logger.Int("validation_samples", len(valid)),
			logger.Any("accepted", result.Accepted),
		)
	}
	return result, nil
}

// newSubmodel builds a fresh candidate. The forest seed varies by pass so
// successive refits explore different bootstraps while staying replayable.
func newSubmodel(kind string, pass int) Submodel {
	switch kind {
	case KindRandomForest:
		return NewRandomForest(60, 8, 42+int64(pass))
	case KindGradientBoosting:
		return NewGradientBoosting(80, 0.1)
	default:
		return NewLogistic()
	}
}

// FitInitial trains every submodel directly on the current window, used at
// startup after a checkpoint restore. No hysteresis gate applies: there is
// no live model to protect yet.
func (t *Trainer) FitInitial() error {
	samples := t.ds.Snapshot()
	if len(samples) < t.cfg.MinTrainSamples {
		return nil
	}
	if err := t.ens.FitAll(samples); err != nil {
		return fmt.Errorf("initial fit: %w", err)
	}
	if t.log != nil {
		t.log.Info("initial model fit complete", logger.Int("samples", len(samples)))
	}
	return nil
}

// RetrainCount returns how many passes have completed.
func (t *Trainer) RetrainCount() int { return t.retrainCount }

// LastRetrainTS returns the timestamp of the last completed pass.
func (t *Trainer) LastRetrainTS() int64 { return t.lastRetrainTS }

// Dataset exposes the training window for checkpointing.
func (t *Trainer) Dataset() *Dataset { return t.ds }
