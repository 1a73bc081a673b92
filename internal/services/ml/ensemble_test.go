package ml

import (
	"math"
	"testing"

	"PolyBot/internal/domain/models"
)

// separableSamples labels outcomes by the RSI feature (vector index 0): RSI
// of 80 or above means up, 20 or below means down.
func separableSamples(n int) []Sample {
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		var s Sample
		s.TS = int64(i)
		up := i%2 == 0
		if up {
			s.Vector[0] = 80 + float64(i%5)
		} else {
			s.Vector[0] = 20 - float64(i%5)
		}
		s.Vector[1] = (s.Vector[0] - 50) / 50
		s.Mask[0], s.Mask[1] = true, true
		s.Up = up
		out = append(out, s)
	}
	return out
}

func readyFeatures(rsi float64) *models.Features {
	return &models.Features{
		Asset:      models.AssetBTC,
		Timeframe:  models.TimeframeMin15,
		ComputedTS: 1700000000000,
		Close:      100,
		RSI:        models.Ptr(rsi),
		RSINorm:    models.Ptr((rsi - 50) / 50),
		MACD:       models.Ptr(0.1),
		MACDSignal: models.Ptr(0.05),
		MACDHist:   models.Ptr(0.05),
		Velocity:   models.Ptr(0.001),
		Momentum:   models.Ptr(0.002),
		StochRSI:   models.Ptr(0.6),
	}
}

func trainedEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	ens, err := NewEnsemble(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	if err := ens.FitAll(separableSamples(200)); err != nil {
		t.Fatalf("FitAll: %v", err)
	}
	return ens
}

func TestEnsembleWeightsSumToOne(t *testing.T) {
	ens, err := NewEnsemble(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	assertSimplex(t, ens.Weights())
}

func assertSimplex(t *testing.T, w map[string]float64) {
	t.Helper()
	sum := 0.0
	for kind, v := range w {
		if v < 0 {
			t.Fatalf("weight %s negative: %v", kind, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %v, want 1", sum)
	}
}

func TestUntrainedEnsembleSkips(t *testing.T) {
	ens, err := NewEnsemble(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	pred, skip := ens.Predict(readyFeatures(80))
	if pred != nil || skip != models.SkipModelNotTrained {
		t.Fatalf("expected model_not_trained skip, got pred=%v skip=%q", pred, skip)
	}
}

func TestPredictDirectionAndConfidence(t *testing.T) {
	ens := trainedEnsemble(t)

	pred, skip := ens.Predict(readyFeatures(85))
	if pred == nil {
		t.Fatalf("expected prediction, got skip %q", skip)
	}
	if pred.Direction != models.DirectionUp {
		t.Fatalf("high RSI should predict up, got %s (prob %v)", pred.Direction, pred.ProbUp)
	}
	if got := math.Abs(pred.ProbUp-0.5) * 2; math.Abs(got-pred.Confidence) > 1e-12 {
		t.Fatalf("confidence %v != |prob-0.5|*2 = %v", pred.Confidence, got)
	}

	pred, skip = ens.Predict(readyFeatures(15))
	if pred == nil {
		t.Fatalf("expected prediction, got skip %q", skip)
	}
	if pred.Direction != models.DirectionDown {
		t.Fatalf("low RSI should predict down, got %s (prob %v)", pred.Direction, pred.ProbUp)
	}
}

func TestTooFewFeaturesSkips(t *testing.T) {
	ens := trainedEnsemble(t)
	f := &models.Features{
		Asset:     models.AssetBTC,
		Timeframe: models.TimeframeMin15,
		RSI:       models.Ptr(80.0),
	}
	pred, skip := ens.Predict(f)
	if pred != nil || skip != models.SkipTooFewFeatures {
		t.Fatalf("expected too_few_features skip, got pred=%v skip=%q", pred, skip)
	}
}

func TestWeightAdjustmentClampsAndRenormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WeightAdjustInterval = 10
	ens, err := NewEnsemble(cfg, nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}

	// Random forest is always right, the others always wrong.
	for i := 0; i < 10; i++ {
		ens.RecordOutcome(map[string]float64{
			KindRandomForest:     0.9,
			KindGradientBoosting: 0.1,
			KindLogistic:         0.1,
		}, true)
	}

	w := ens.Weights()
	assertSimplex(t, w)
	for kind, v := range w {
		if v < 0.10-1e-12 || v > 0.60+1e-12 {
			t.Fatalf("weight %s outside [0.10, 0.60]: %v", kind, v)
		}
	}
	if w[KindRandomForest] <= w[KindGradientBoosting] {
		t.Fatalf("accurate submodel should outweigh inaccurate one: %v", w)
	}
	if math.Abs(w[KindRandomForest]-0.60) > 1e-9 {
		t.Fatalf("dominant submodel should sit at the ceiling, got %v", w[KindRandomForest])
	}
}

func TestWeightsUnchangedOffInterval(t *testing.T) {
	ens, err := NewEnsemble(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	before := ens.Weights()
	for i := 0; i < 9; i++ {
		ens.RecordOutcome(map[string]float64{KindRandomForest: 0.9}, true)
	}
	after := ens.Weights()
	for kind := range before {
		if before[kind] != after[kind] {
			t.Fatalf("weights moved before the adjustment interval")
		}
	}
}

func TestFeaturesTriggeredFollowDirection(t *testing.T) {
	ens := trainedEnsemble(t)

	// Build up standardization history around neutral RSI.
	for i := 0; i < 30; i++ {
		ens.Predict(readyFeatures(50 + float64(i%3)))
	}
	pred, _ := ens.Predict(readyFeatures(95))
	if pred == nil {
		t.Fatalf("expected prediction")
	}
	found := false
	for _, name := range pred.FeaturesTriggered {
		if name == "rsi" {
			found = true
		}
	}
	if !found {
		t.Fatalf("extreme rsi should be in features_triggered, got %v", pred.FeaturesTriggered)
	}
}

func TestLogisticLearnsSeparableData(t *testing.T) {
	samples := separableSamples(200)
	xs, ys := toMatrix(samples)
	m := NewLogistic()
	if err := m.Fit(xs, ys); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if acc := accuracy(m, samples); acc < 0.95 {
		t.Fatalf("logistic accuracy on separable data = %v", acc)
	}
}

func TestForestIsDeterministic(t *testing.T) {
	samples := separableSamples(120)
	xs, ys := toMatrix(samples)

	a := NewRandomForest(20, 6, 7)
	b := NewRandomForest(20, 6, 7)
	if err := a.Fit(xs, ys); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if err := b.Fit(xs, ys); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for _, s := range samples[:20] {
		pa := a.PredictProb(s.Vector[:], s.Mask[:])
		pb := b.PredictProb(s.Vector[:], s.Mask[:])
		if pa != pb {
			t.Fatalf("same seed, different predictions: %v vs %v", pa, pb)
		}
	}
}

func TestGradientBoostingLearnsSeparableData(t *testing.T) {
	samples := separableSamples(200)
	xs, ys := toMatrix(samples)
	m := NewGradientBoosting(60, 0.1)
	if err := m.Fit(xs, ys); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if acc := accuracy(m, samples); acc < 0.95 {
		t.Fatalf("boosting accuracy on separable data = %v", acc)
	}
}
