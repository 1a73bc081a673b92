package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
	"PolyBot/pkg/logger"
)

// ErrBadQuote marks ticks rejected for an unusable bid/ask.
var ErrBadQuote = errors.New("bad quote")

// TickProc consumes routed ticks.
type TickProc interface {
	Process(ctx context.Context, t *models.Tick) error
}

type sourceState struct {
	lastTS    int64
	mid       float64
	latencyMs int64
	lastSeen  time.Time
}

// TickRouter merges the per-exchange streams into one canonical tick flow:
// per-(asset, source) monotonic dedupe, quote validation, and a
// latency-weighted consensus mid stamped on every emitted tick. It owns the
// dedupe table exclusively.
type TickRouter struct {
	streams      []repository.TickStream
	out          TickProc
	metrics      repository.Metrics
	log          *logger.Logger
	staleTimeout time.Duration

	mu      sync.Mutex
	sources map[models.Asset]map[models.Source]*sourceState
	stalled map[models.Source]bool
}

// NewTickRouter creates a router over the given streams.
func NewTickRouter(streams []repository.TickStream, out TickProc, metrics repository.Metrics, log *logger.Logger, staleTimeout time.Duration) *TickRouter {
	if staleTimeout <= 0 {
		staleTimeout = 30 * time.Second
	}
	return &TickRouter{
		streams:      streams,
		out:          out,
		metrics:      metrics,
		log:          log,
		staleTimeout: staleTimeout,
		sources:      make(map[models.Asset]map[models.Source]*sourceState),
		stalled:      make(map[models.Source]bool),
	}
}

// Start connects every stream and begins routing. It returns after spawning
// the per-stream consumers and the staleness watchdog.
func (r *TickRouter) Start(ctx context.Context) error {
	for _, s := range r.streams {
		if err := s.Connect(ctx); err != nil {
			return err
		}
		if err := s.Subscribe(ctx); err != nil {
			return err
		}
		ticks, errs := s.Read(ctx)
		go r.consume(ctx, s, ticks, errs)
	}
	go r.watchStaleness(ctx)
	return nil
}

func (r *TickRouter) consume(ctx context.Context, s repository.TickStream, ticks <-chan *models.Tick, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if err != nil {
				r.metrics.RecordError("stream_" + string(s.Source()))
				if r.log != nil {
					r.log.Warn("stream error, reconnecting",
						logger.String("source", string(s.Source())), logger.Error(err))
				}
				if rerr := s.Reconnect(ctx); rerr != nil {
					r.metrics.RecordError("stream_reconnect")
					return
				}
				nt, ne := s.Read(ctx)
				go r.consume(ctx, s, nt, ne)
				return
			}
		case t := <-ticks:
			if t == nil {
				continue
			}
			r.Route(ctx, t)
		}
	}
}

// Route canonicalizes one tick: quote validation, per-(asset, source)
// dedupe, consensus stamping, and forwarding.
func (r *TickRouter) Route(ctx context.Context, t *models.Tick) {
	if t.Bid != 0 || t.Ask != 0 {
		if t.Bid <= 0 || t.Ask <= 0 || t.Ask < t.Bid {
			r.metrics.RecordError("bad_quote")
			return
		}
		if t.Mid <= 0 {
			t.Mid = (t.Bid + t.Ask) / 2
		}
	}
	if t.Mid <= 0 {
		r.metrics.RecordError("bad_quote")
		return
	}

	r.mu.Lock()
	bySource, ok := r.sources[t.Asset]
	if !ok {
		bySource = make(map[models.Source]*sourceState)
		r.sources[t.Asset] = bySource
	}
	st, ok := bySource[t.Source]
	if !ok {
		st = &sourceState{}
		bySource[t.Source] = st
	}
	// Non-increasing timestamps for the same source are dropped silently.
	if t.TS <= st.lastTS {
		r.mu.Unlock()
		return
	}
	st.lastTS = t.TS
	st.mid = t.Mid
	st.latencyMs = t.LatencyMs
	st.lastSeen = time.Now()
	r.stalled[t.Source] = false

	t.ConsensusMid, t.ConsensusConfidence = r.consensusLocked(bySource)
	r.mu.Unlock()

	r.metrics.RecordTick(string(t.Source), string(t.Asset))
	r.metrics.RecordLastPrice(string(t.Asset), t.ConsensusMid)

	if err := r.out.Process(ctx, t); err != nil {
		r.metrics.RecordError("route_forward")
	}
}

// consensusLocked computes the weighted mid over live sources, weighting
// each by 1 / (latency_ms + 1), plus an agreement confidence derived from
// the cross-source price dispersion.
func (r *TickRouter) consensusLocked(bySource map[models.Source]*sourceState) (float64, float64) {
	var weightSum, mid float64
	lo, hi := 0.0, 0.0
	n := 0
	for _, st := range bySource {
		if st.mid <= 0 {
			continue
		}
		w := 1.0 / (float64(st.latencyMs) + 1)
		mid += st.mid * w
		weightSum += w
		if n == 0 || st.mid < lo {
			lo = st.mid
		}
		if n == 0 || st.mid > hi {
			hi = st.mid
		}
		n++
	}
	if weightSum == 0 {
		return 0, 0
	}
	mid /= weightSum

	// Agreement confidence: two or more tight sources score near 1, a 10%
	// dispersion drops it to the 0.5 floor, and a lone source tops out at
	// 0.75.
	dispersion := 0.0
	if lo > 0 {
		dispersion = (hi - lo) / lo
	}
	agreement := 1.0 - dispersion*10
	if agreement < 0 {
		agreement = 0
	}
	sourceFactor := float64(n) / 2
	if sourceFactor > 1 {
		sourceFactor = 1
	}
	confidence := 0.5 + 0.5*sourceFactor*agreement
	return mid, confidence
}

// watchStaleness surfaces SourceStalled once per silence episode. The
// router never reconnects on staleness; it keeps routing the remaining
// sources.
func (r *TickRouter) watchStaleness(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			r.mu.Lock()
			for _, bySource := range r.sources {
				for source, st := range bySource {
					if st.lastSeen.IsZero() || now.Sub(st.lastSeen) < r.staleTimeout {
						continue
					}
					if !r.stalled[source] {
						r.stalled[source] = true
						r.metrics.RecordError("source_stalled_" + string(source))
						if r.log != nil {
							r.log.Warn("source stalled",
								logger.String("source", string(source)),
								logger.Duration("silent_for", now.Sub(st.lastSeen)),
							)
						}
					}
				}
			}
			r.mu.Unlock()
		}
	}
}

// Close shuts every stream down.
func (r *TickRouter) Close() error {
	var first error
	for _, s := range r.streams {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
