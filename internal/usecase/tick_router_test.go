package usecase

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"PolyBot/internal/domain/models"
)

type recordingProc struct {
	mu    sync.Mutex
	ticks []*models.Tick
}

func (p *recordingProc) Process(_ context.Context, t *models.Tick) error {
	p.mu.Lock()
	p.ticks = append(p.ticks, t)
	p.mu.Unlock()
	return nil
}

func (p *recordingProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{errors: make(map[string]int)} }

func (m *countingMetrics) RecordTick(string, string)         {}
func (m *countingMetrics) RecordCandleClosed(string, string) {}
func (m *countingMetrics) RecordFilterReject(string)         {}
func (m *countingMetrics) RecordPrediction(string, string)   {}
func (m *countingMetrics) RecordTradeClosed(string, bool)    {}
func (m *countingMetrics) RecordLatency(string, float64)     {}
func (m *countingMetrics) RecordLastPrice(string, float64)   {}
func (m *countingMetrics) SetOpenPositions(int)              {}
func (m *countingMetrics) SetExposure(float64)               {}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func srcTick(source models.Source, tsMs int64, bid, ask float64, latencyMs int64) *models.Tick {
	return &models.Tick{
		Asset:     models.AssetBTC,
		Source:    source,
		Bid:       bid,
		Ask:       ask,
		TS:        tsMs,
		LatencyMs: latencyMs,
	}
}

func TestRouterDropsNonIncreasingTimestamps(t *testing.T) {
	proc := &recordingProc{}
	r := NewTickRouter(nil, proc, newCountingMetrics(), nil, 30*time.Second)
	ctx := context.Background()

	r.Route(ctx, srcTick(models.SourceBinance, 1000, 99, 101, 5))
	r.Route(ctx, srcTick(models.SourceBinance, 1000, 99, 101, 5)) // equal, dropped
	r.Route(ctx, srcTick(models.SourceBinance, 900, 99, 101, 5))  // older, dropped
	r.Route(ctx, srcTick(models.SourceBinance, 1100, 99, 101, 5))

	if got := proc.count(); got != 2 {
		t.Fatalf("forwarded %d ticks, want 2", got)
	}
}

func TestRouterDedupeIsPerSource(t *testing.T) {
	proc := &recordingProc{}
	r := NewTickRouter(nil, proc, newCountingMetrics(), nil, 30*time.Second)
	ctx := context.Background()

	r.Route(ctx, srcTick(models.SourceBinance, 1000, 99, 101, 5))
	r.Route(ctx, srcTick(models.SourceBybit, 1000, 99, 101, 5)) // same ts, other source

	if got := proc.count(); got != 2 {
		t.Fatalf("forwarded %d ticks, want 2", got)
	}
}

func TestRouterRejectsBadQuotes(t *testing.T) {
	proc := &recordingProc{}
	m := newCountingMetrics()
	r := NewTickRouter(nil, proc, m, nil, 30*time.Second)
	ctx := context.Background()

	r.Route(ctx, srcTick(models.SourceBinance, 1000, -1, 101, 5))  // negative bid
	r.Route(ctx, srcTick(models.SourceBinance, 1100, 99, 0, 5))    // zero ask
	r.Route(ctx, srcTick(models.SourceBinance, 1200, 101, 99, 5))  // crossed

	if got := proc.count(); got != 0 {
		t.Fatalf("bad quotes forwarded: %d", got)
	}
	if m.errors["bad_quote"] != 3 {
		t.Fatalf("bad_quote counted %d times, want 3", m.errors["bad_quote"])
	}
}

func TestRouterDerivesMidFromQuote(t *testing.T) {
	proc := &recordingProc{}
	r := NewTickRouter(nil, proc, newCountingMetrics(), nil, 30*time.Second)

	r.Route(context.Background(), srcTick(models.SourceBinance, 1000, 99, 101, 5))
	if proc.ticks[0].Mid != 100 {
		t.Fatalf("mid = %v, want 100", proc.ticks[0].Mid)
	}
}

func TestConsensusMidIsLatencyWeighted(t *testing.T) {
	proc := &recordingProc{}
	r := NewTickRouter(nil, proc, newCountingMetrics(), nil, 30*time.Second)
	ctx := context.Background()

	// Fast source at 100, slow source at 110: the consensus must sit
	// much closer to the fast source.
	r.Route(ctx, srcTick(models.SourceBinance, 1000, 99, 101, 0))   // weight 1
	r.Route(ctx, srcTick(models.SourceBybit, 1000, 109, 111, 99))   // weight 0.01

	last := proc.ticks[len(proc.ticks)-1]
	want := (100*1.0 + 110*0.01) / 1.01
	if math.Abs(last.ConsensusMid-want) > 1e-9 {
		t.Fatalf("consensus mid = %v, want %v", last.ConsensusMid, want)
	}
	if last.ConsensusConfidence <= 0 || last.ConsensusConfidence > 1 {
		t.Fatalf("consensus confidence out of range: %v", last.ConsensusConfidence)
	}
}

func TestConsensusConfidenceGrowsWithAgreement(t *testing.T) {
	proc := &recordingProc{}
	r := NewTickRouter(nil, proc, newCountingMetrics(), nil, 30*time.Second)
	ctx := context.Background()

	r.Route(ctx, srcTick(models.SourceBinance, 1000, 99.9, 100.1, 5))
	single := proc.ticks[0].ConsensusConfidence

	r.Route(ctx, srcTick(models.SourceBybit, 1000, 99.9, 100.1, 5))
	multi := proc.ticks[1].ConsensusConfidence

	if multi < single {
		t.Fatalf("agreeing second source lowered confidence: %v -> %v", single, multi)
	}
}
