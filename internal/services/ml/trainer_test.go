package ml

import (
	"testing"
)

// flatSamples carry no signal at all: every model ends up at probability
// 0.5 and validation accuracy lands on the alternating base rate.
func flatSamples(n int) []Sample {
	out := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Sample{TS: int64(i), Up: i%2 == 0})
	}
	return out
}

func TestRetrainSkippedBelowMinSamples(t *testing.T) {
	ens, err := NewEnsemble(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	ds := NewDataset(2000)
	tr := NewTrainer(DefaultTrainerConfig(), ens, ds, nil)

	for _, s := range flatSamples(50) {
		ds.Add(s)
	}
	res, err := tr.Retrain(1700000000000)
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if res.Ran {
		t.Fatalf("retrain ran below min samples")
	}
}

func TestRetrainHysteresisGate(t *testing.T) {
	ens, err := NewEnsemble(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}

	// Live rolling accuracy: gradient boosting near-perfect, logistic
	// regression hopeless.
	for i := 0; i < 100; i++ {
		ens.RecordOutcome(map[string]float64{
			KindGradientBoosting: 0.9,
			KindLogistic:         0.1,
			KindRandomForest:     0.9,
		}, true)
	}
	if acc := ens.RollingAccuracy(KindGradientBoosting); acc != 1.0 {
		t.Fatalf("setup: gb rolling accuracy = %v", acc)
	}

	ds := NewDataset(2000)
	for _, s := range flatSamples(200) {
		ds.Add(s)
	}
	tr := NewTrainer(DefaultTrainerConfig(), ens, ds, nil)

	res, err := tr.Retrain(1700000000000)
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if !res.Ran {
		t.Fatalf("retrain did not run")
	}

	// Candidates trained on signal-free data validate around 0.5: far
	// below the boosting submodel's rolling accuracy (rejected), well
	// within the logistic submodel's band (accepted).
	if res.Accepted[KindGradientBoosting] {
		t.Fatalf("gradient boosting candidate should fail the hysteresis gate (val=%v)", res.ValAcc[KindGradientBoosting])
	}
	if !res.Accepted[KindLogistic] {
		t.Fatalf("logistic candidate should pass the hysteresis gate (val=%v)", res.ValAcc[KindLogistic])
	}
	if tr.RetrainCount() != 1 || tr.LastRetrainTS() != 1700000000000 {
		t.Fatalf("retrain bookkeeping wrong: count=%d ts=%d", tr.RetrainCount(), tr.LastRetrainTS())
	}
}

func TestOnTradeClosedCadence(t *testing.T) {
	cfg := DefaultTrainerConfig()
	cfg.RetrainIntervalTrades = 5
	cfg.MinTrainSamples = 3

	ens, err := NewEnsemble(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewEnsemble: %v", err)
	}
	ds := NewDataset(2000)
	tr := NewTrainer(cfg, ens, ds, nil)

	samples := flatSamples(10)
	for i, s := range samples[:4] {
		res, err := tr.OnTradeClosed(s, int64(i))
		if err != nil {
			t.Fatalf("OnTradeClosed: %v", err)
		}
		if res.Ran {
			t.Fatalf("retrain fired before interval at trade %d", i+1)
		}
	}
	res, err := tr.OnTradeClosed(samples[4], 42)
	if err != nil {
		t.Fatalf("OnTradeClosed: %v", err)
	}
	if !res.Ran {
		t.Fatalf("retrain did not fire on the interval")
	}
}

func TestDatasetSlidingWindow(t *testing.T) {
	ds := NewDataset(5)
	for _, s := range flatSamples(12) {
		ds.Add(s)
	}
	if ds.Len() != 5 {
		t.Fatalf("window length = %d, want 5", ds.Len())
	}
	snap := ds.Snapshot()
	if snap[0].TS != 7 || snap[len(snap)-1].TS != 11 {
		t.Fatalf("window kept wrong samples: first=%d last=%d", snap[0].TS, snap[len(snap)-1].TS)
	}
}
