package ml

import (
	"fmt"
	"math"
	"sync"

	"PolyBot/internal/domain/models"
	"PolyBot/pkg/logger"
)

const (
	weightFloor = 0.10
	weightCeil  = 0.60
)

// Config parameterizes the ensemble.
type Config struct {
	MinConfidence        float64
	MinReadyFeatures     int
	ZScoreThreshold      float64
	WeightAdjustInterval int
	AccuracyWindow       int
	RandomForestWeight   float64
	GradientBoostWeight  float64
	LogisticWeight       float64
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinConfidence:        0.55,
		MinReadyFeatures:     8,
		ZScoreThreshold:      1.5,
		WeightAdjustInterval: 10,
		AccuracyWindow:       100,
		RandomForestWeight:   0.40,
		GradientBoostWeight:  0.35,
		LogisticWeight:       0.25,
	}
}

// welford is a running mean/variance accumulator per feature, used for the
// triggered-feature z-scores.
type welford struct {
	n    int64
	mean float64
	m2   float64
}

func (w *welford) add(v float64) {
	w.n++
	d := v - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (v - w.mean)
}

func (w *welford) std() float64 {
	if w.n < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.n-1))
}

type outcome struct {
	correct bool
}

// Ensemble combines the three submodels by weighted vote. It owns the
// submodel set, the vote weights, per-feature standardization stats, and
// per-submodel rolling accuracy.
type Ensemble struct {
	mu  sync.Mutex
	cfg Config
	log *logger.Logger

	submodels map[string]Submodel
	weights   map[string]float64

	featStats [models.NumFeatures]welford

	outcomes    map[string][]outcome
	closedCount int

	latest map[models.MarketKey]models.Prediction
}

// kindOrder fixes iteration order everywhere weights or probabilities are
// combined, so results are reproducible.
var kindOrder = []string{KindRandomForest, KindGradientBoosting, KindLogistic}

// NewEnsemble builds the ensemble with untrained submodels and configured
// starting weights.
func NewEnsemble(cfg Config, log *logger.Logger) (*Ensemble, error) {
	weights := map[string]float64{
		KindRandomForest:     cfg.RandomForestWeight,
		KindGradientBoosting: cfg.GradientBoostWeight,
		KindLogistic:         cfg.LogisticWeight,
	}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("ensemble weight must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		return nil, fmt.Errorf("ensemble weights must sum to 1, got %v", sum)
	}

	return &Ensemble{
		cfg: cfg,
		log: log,
		submodels: map[string]Submodel{
			KindRandomForest:     NewRandomForest(60, 8, 42),
			KindGradientBoosting: NewGradientBoosting(80, 0.1),
			KindLogistic:         NewLogistic(),
		},
		weights:  weights,
		outcomes: make(map[string][]outcome),
		latest:   make(map[models.MarketKey]models.Prediction),
	}, nil
}

// Predict evaluates the feature record. A nil prediction carries the skip
// reason; both are never set together.
func (e *Ensemble) Predict(f *models.Features) (*models.Prediction, models.SkipReason) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec, mask := f.Vector()

	// Standardization stats use the state prior to this observation, then
	// absorb it, keeping replays deterministic.
	zs := [models.NumFeatures]float64{}
	for i := 0; i < models.NumFeatures; i++ {
		if !mask[i] {
			continue
		}
		if std := e.featStats[i].std(); std > 0 {
			zs[i] = (vec[i] - e.featStats[i].mean) / std
		}
		e.featStats[i].add(vec[i])
	}

	trained := false
	for _, m := range e.submodels {
		if m.Trained() {
			trained = true
			break
		}
	}
	if !trained {
		return nil, models.SkipModelNotTrained
	}

	ready := 0
	for _, ok := range mask {
		if ok {
			ready++
		}
	}
	if ready < e.cfg.MinReadyFeatures {
		return nil, models.SkipTooFewFeatures
	}

	probs := make(map[string]float64, len(kindOrder))
	probUp := 0.0
	for _, kind := range kindOrder {
		p := e.submodels[kind].PredictProb(vec[:], mask[:])
		probs[kind] = p
		probUp += e.weights[kind] * p
	}

	direction := models.DirectionUp
	if probUp < 0.5 {
		direction = models.DirectionDown
	}
	confidence := math.Abs(probUp-0.5) * 2
	if confidence < e.cfg.MinConfidence {
		return nil, models.SkipLowConfidence
	}

	triggered := make([]string, 0, 8)
	for i := 0; i < models.NumFeatures; i++ {
		if !mask[i] {
			continue
		}
		z := zs[i]
		if direction == models.DirectionUp && z >= e.cfg.ZScoreThreshold {
			triggered = append(triggered, models.FeatureName(i))
		} else if direction == models.DirectionDown && z <= -e.cfg.ZScoreThreshold {
			triggered = append(triggered, models.FeatureName(i))
		}
	}

	pred := models.Prediction{
		Asset:             f.Asset,
		Timeframe:         f.Timeframe,
		Direction:         direction,
		ProbUp:            probUp,
		Confidence:        confidence,
		ModelName:         "ensemble",
		FeaturesTriggered: triggered,
		SubmodelProbs:     probs,
		TS:                f.ComputedTS,
	}
	e.latest[models.MarketKey{Asset: f.Asset, Timeframe: f.Timeframe}] = pred
	return &pred, ""
}

// RecordOutcome feeds a realized market outcome back into each submodel's
// rolling accuracy, and re-derives the vote weights on the adjustment
// interval.
func (e *Ensemble) RecordOutcome(submodelProbs map[string]float64, up bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for kind, p := range submodelProbs {
		hist := append(e.outcomes[kind], outcome{correct: (p >= 0.5) == up})
		if len(hist) > e.cfg.AccuracyWindow {
			hist = hist[len(hist)-e.cfg.AccuracyWindow:]
		}
		e.outcomes[kind] = hist
	}

	e.closedCount++
	if e.cfg.WeightAdjustInterval > 0 && e.closedCount%e.cfg.WeightAdjustInterval == 0 {
		e.adjustWeightsLocked()
	}
}

func (e *Ensemble) adjustWeightsLocked() {
	raw := make(map[string]float64, len(kindOrder))
	for _, kind := range kindOrder {
		raw[kind] = math.Max(e.rollingAccuracyLocked(kind)-0.5, 0.01)
	}
	e.weights = normalizeClamped(raw)
	if e.log != nil {
		e.log.Info("ensemble weights adjusted",
			logger.Any("weights", e.weights),
			logger.Int("closed_trades", e.closedCount),
		)
	}
}

// normalizeClamped projects raw positives onto the simplex with per-weight
// bounds [0.10, 0.60], keeping the sum at exactly 1. Out-of-bound entries
// are pinned and the remaining budget redistributed proportionally to the
// raw values until everything fits.
func normalizeClamped(raw map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(raw))
	fixed := make(map[string]bool, len(raw))

	for iter := 0; iter < len(kindOrder)+1; iter++ {
		budget := 1.0
		rawSum := 0.0
		for _, kind := range kindOrder {
			if fixed[kind] {
				budget -= out[kind]
			} else {
				rawSum += raw[kind]
			}
		}
		if rawSum <= 0 {
			break
		}

		// Pin at most one entry per pass (the worst violator), then
		// redistribute; pinning several at once can strand budget.
		worst := ""
		worstGap := 0.0
		for _, kind := range kindOrder {
			if fixed[kind] {
				continue
			}
			w := raw[kind] / rawSum * budget
			out[kind] = w
			gap := 0.0
			if w < weightFloor {
				gap = weightFloor - w
			} else if w > weightCeil {
				gap = w - weightCeil
			}
			if gap > worstGap {
				worstGap = gap
				worst = kind
			}
		}
		if worst == "" {
			break
		}
		if out[worst] < weightFloor {
			out[worst] = weightFloor
		} else {
			out[worst] = weightCeil
		}
		fixed[worst] = true
	}

	// Absorb floating-point drift into the largest unfixed weight so the
	// invariant sum == 1 holds to machine precision.
	total := 0.0
	largest := ""
	for _, kind := range kindOrder {
		total += out[kind]
		if !fixed[kind] && (largest == "" || out[kind] > out[largest]) {
			largest = kind
		}
	}
	if largest == "" {
		largest = kindOrder[0]
	}
	out[largest] += 1 - total
	return out
}

func (e *Ensemble) rollingAccuracyLocked(kind string) float64 {
	hist := e.outcomes[kind]
	if len(hist) == 0 {
		return 0.5
	}
	correct := 0
	for _, o := range hist {
		if o.correct {
			correct++
		}
	}
	return float64(correct) / float64(len(hist))
}

// RollingAccuracy returns the submodel's hit rate over the accuracy window,
// 0.5 when no outcomes have been recorded.
func (e *Ensemble) RollingAccuracy(kind string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollingAccuracyLocked(kind)
}

// Weights copies the current vote weights.
func (e *Ensemble) Weights() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.weights))
	for k, v := range e.weights {
		out[k] = v
	}
	return out
}

// ReplaceSubmodel swaps in a newly trained submodel of the same kind.
func (e *Ensemble) ReplaceSubmodel(kind string, m Submodel) error {
	if m.Name() != kind {
		return fmt.Errorf("submodel kind mismatch: %s != %s", m.Name(), kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.submodels[kind]; !ok {
		return fmt.Errorf("unknown submodel kind %q", kind)
	}
	e.submodels[kind] = m
	return nil
}

// FitAll trains every submodel on the given samples. Used for the initial
// fit; periodic retraining goes through the Trainer's per-submodel gate.
func (e *Ensemble) FitAll(samples []Sample) error {
	xs, ys := toMatrix(samples)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, kind := range kindOrder {
		if err := e.submodels[kind].Fit(xs, ys); err != nil {
			return fmt.Errorf("fit %s: %w", kind, err)
		}
	}
	return nil
}

// Trained reports whether at least one submodel has been fit.
func (e *Ensemble) Trained() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.submodels {
		if m.Trained() {
			return true
		}
	}
	return false
}

// LatestPredictions copies the most recent prediction per market.
func (e *Ensemble) LatestPredictions() map[string]models.Prediction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.Prediction, len(e.latest))
	for k, v := range e.latest {
		out[k.String()] = v
	}
	return out
}

// Snapshot summarizes model state for the dashboard.
func (e *Ensemble) Snapshot(datasetSize int, lastRetrainTS int64, retrainCount int) models.MLSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	weights := make(map[string]float64, len(e.weights))
	acc := make(map[string]float64, len(e.weights))
	trained := false
	for _, kind := range kindOrder {
		weights[kind] = e.weights[kind]
		acc[kind] = e.rollingAccuracyLocked(kind)
		if e.submodels[kind].Trained() {
			trained = true
		}
	}

	latest := make(map[string]models.Prediction, len(e.latest))
	for k, v := range e.latest {
		latest[k.String()] = v
	}

	return models.MLSnapshot{
		Trained:          trained,
		Weights:          weights,
		RollingAccuracy:  acc,
		DatasetSize:      datasetSize,
		LastRetrainTS:    lastRetrainTS,
		RetrainCount:     retrainCount,
		LatestPrediction: latest,
	}
}
