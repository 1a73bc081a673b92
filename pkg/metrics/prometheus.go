package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	ticksTotal     *prometheus.CounterVec
	candlesClosed  *prometheus.CounterVec
	filterRejects  *prometheus.CounterVec
	predictions    *prometheus.CounterVec
	tradesClosed   *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	openPositions  prometheus.Gauge
	exposureUSDC   prometheus.Gauge
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polybot_ticks_total",
				Help: "Ticks accepted by the router",
			},
			[]string{"source", "asset"},
		),
		candlesClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polybot_candles_closed_total",
				Help: "Candles rolled by the assembler",
			},
			[]string{"asset", "timeframe"},
		),
		filterRejects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polybot_filter_rejects_total",
				Help: "Predictions rejected by smart filters",
			},
			[]string{"reason"},
		),
		predictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polybot_predictions_total",
				Help: "Predictions emitted by the ensemble",
			},
			[]string{"asset", "timeframe"},
		),
		tradesClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polybot_trades_closed_total",
				Help: "Closed trades by exit reason and outcome",
			},
			[]string{"reason", "outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polybot_errors_total",
				Help: "Errors encountered, by kind",
			},
			[]string{"kind"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polybot_last_price",
				Help: "Last consensus mid per asset",
			},
			[]string{"asset"},
		),
		openPositions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "polybot_open_positions",
				Help: "Currently open positions",
			},
		),
		exposureUSDC: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "polybot_exposure_usdc",
				Help: "Sum of open position sizes",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polybot_operation_duration_seconds",
				Help:    "Duration of pipeline operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}

func (r *Recorder) RecordTick(source, asset string) {
	r.ticksTotal.WithLabelValues(source, asset).Inc()
}

func (r *Recorder) RecordCandleClosed(asset, timeframe string) {
	r.candlesClosed.WithLabelValues(asset, timeframe).Inc()
}

func (r *Recorder) RecordFilterReject(reason string) {
	r.filterRejects.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordPrediction(asset, timeframe string) {
	r.predictions.WithLabelValues(asset, timeframe).Inc()
}

func (r *Recorder) RecordTradeClosed(reason string, win bool) {
	outcome := "loss"
	if win {
		outcome = "win"
	}
	r.tradesClosed.WithLabelValues(reason, outcome).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordLastPrice(asset string, price float64) {
	r.lastPrice.WithLabelValues(asset).Set(price)
}

func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

func (r *Recorder) SetExposure(usdc float64) {
	r.exposureUSDC.Set(usdc)
}
