package ml

import (
	"sync"

	"PolyBot/internal/domain/models"
)

// Sample is one (features, outcome) training pair. Up is the realized
// binary outcome of the market window, not whether our trade won.
type Sample struct {
	TS     int64                      `json:"ts"`
	Vector [models.NumFeatures]float64 `json:"vector"`
	Mask   [models.NumFeatures]bool    `json:"mask"`
	Up     bool                       `json:"up"`
}

// Dataset is a sliding chronological window of training samples.
type Dataset struct {
	mu      sync.Mutex
	samples []Sample
	max     int
}

// NewDataset creates a dataset bounded to max samples.
func NewDataset(max int) *Dataset {
	if max <= 0 {
		max = 2000
	}
	return &Dataset{max: max}
}

// Add appends a sample, evicting the oldest past the window bound.
func (d *Dataset) Add(s Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples = append(d.samples, s)
	if len(d.samples) > d.max {
		d.samples = d.samples[len(d.samples)-d.max:]
	}
}

// Len returns the current sample count.
func (d *Dataset) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.samples)
}

// Snapshot copies the current window in chronological order.
func (d *Dataset) Snapshot() []Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Sample, len(d.samples))
	copy(out, d.samples)
	return out
}

// Restore replaces the window content, e.g. from a checkpoint.
func (d *Dataset) Restore(samples []Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(samples) > d.max {
		samples = samples[len(samples)-d.max:]
	}
	d.samples = append([]Sample(nil), samples...)
}

// split partitions chronologically into train and validation parts.
func split(samples []Sample, trainFrac float64) (train, valid []Sample) {
	cut := int(float64(len(samples)) * trainFrac)
	if cut < 1 {
		cut = 1
	}
	if cut >= len(samples) {
		cut = len(samples) - 1
	}
	return samples[:cut], samples[cut:]
}

// toMatrix flattens samples for submodel fitting.
func toMatrix(samples []Sample) (xs [][]float64, ys []int) {
	xs = make([][]float64, len(samples))
	ys = make([]int, len(samples))
	for i, s := range samples {
		row := make([]float64, models.NumFeatures)
		copy(row, s.Vector[:])
		xs[i] = row
		if s.Up {
			ys[i] = 1
		}
	}
	return xs, ys
}
