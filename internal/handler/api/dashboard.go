package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/domain/repository"
	"PolyBot/internal/services/calibration"
	"PolyBot/internal/services/filters"
	"PolyBot/internal/services/ml"
	"PolyBot/internal/services/positions"
	"PolyBot/internal/usecase"
	xhttp "PolyBot/pkg/http"
	xlogger "PolyBot/pkg/logger"
	"PolyBot/pkg/util"
)

// DashboardHandler serves the read-only snapshot surface. Every endpoint is
// a copy of owned state; nothing here mutates the pipeline.
type DashboardHandler struct {
	logger     *xlogger.Logger
	pipeline   *usecase.DecisionPipeline
	positions  *positions.Manager
	calibrator *calibration.Calibrator
	ensemble   *ml.Ensemble
	trainer    *ml.Trainer
	filters    *filters.Engine
	storage    repository.TradeStorage
	logs       *LogBuffer
	dryRun     bool
}

// NewDashboardHandler wires the snapshot surface.
func NewDashboardHandler(
	logger *xlogger.Logger,
	pipeline *usecase.DecisionPipeline,
	posManager *positions.Manager,
	calibrator *calibration.Calibrator,
	ensemble *ml.Ensemble,
	trainer *ml.Trainer,
	filterEngine *filters.Engine,
	storage repository.TradeStorage,
	logs *LogBuffer,
	dryRun bool,
) *DashboardHandler {
	return &DashboardHandler{
		logger:     logger,
		pipeline:   pipeline,
		positions:  posManager,
		calibrator: calibrator,
		ensemble:   ensemble,
		trainer:    trainer,
		filters:    filterEngine,
		storage:    storage,
		logs:       logs,
		dryRun:     dryRun,
	}
}

// RegisterRoutes attaches the API group.
func (h *DashboardHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/dashboard", h.Dashboard)
	g.GET("/calibration", h.Calibration)
	g.GET("/ml", h.ML)
	g.GET("/positions", h.Positions)
	g.GET("/diagnostics", h.Diagnostics)
	g.GET("/trades", h.Trades)
	g.GET("/logs", h.Logs)
	e.GET("/healthz", h.Health)
}

// Logs returns recent aggregated log entries.
func (h *DashboardHandler) Logs(c echo.Context) error {
	if h.logs == nil {
		return xhttp.SuccessResponse(c, []xlogger.AggregatedLogEntry{})
	}
	return xhttp.SuccessResponse(c, h.logs.Recent())
}

// Dashboard returns the full observer snapshot.
func (h *DashboardHandler) Dashboard(c echo.Context) error {
	now := time.Now().UnixMilli()
	snap := models.DashboardSnapshot{
		GeneratedAt:   now,
		DryRun:        h.dryRun,
		BalanceUSDC:   h.positions.Balance(),
		EquityUSDC:    h.positions.Equity(),
		TodayPnLUSDC:  h.positions.TodayPnL(now),
		OpenPositions: h.positions.OpenPositions(),
		RecentTrades:  h.positions.RecentTrades(50),
		Prices:        h.pipeline.Prices(),
		Diagnostics:   h.diagnostics(),
	}
	return xhttp.SuccessResponse(c, snap)
}

// Calibration returns the per-market calibration rows.
func (h *DashboardHandler) Calibration(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.calibrator.Views())
}

// ML returns model weights, rolling accuracy, and latest predictions.
func (h *DashboardHandler) ML(c echo.Context) error {
	snap := h.ensemble.Snapshot(h.trainer.Dataset().Len(), h.trainer.LastRetrainTS(), h.trainer.RetrainCount())
	return xhttp.SuccessResponse(c, snap)
}

// Positions returns the open set.
func (h *DashboardHandler) Positions(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.positions.OpenPositions())
}

// Diagnostics returns the per-reason rejection and skip counters.
func (h *DashboardHandler) Diagnostics(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.diagnostics())
}

func (h *DashboardHandler) diagnostics() map[string]int64 {
	out := h.filters.RejectCounts()
	for k, v := range h.pipeline.SkipCounts() {
		out["skip_"+k] = v
	}
	return out
}

type tradesRequest struct {
	Asset string `query:"asset" validate:"required,oneof=BTC ETH SOL XRP btc eth sol xrp"`
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"200" validate:"gte=1,lte=1000"`
}

// Trades queries durable trade history when a storage backend is enabled,
// falling back to the in-memory recent window otherwise.
func (h *DashboardHandler) Trades(c echo.Context) error {
	req := &tradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	asset, err := models.ParseAsset(req.Asset)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}
	if h.storage == nil {
		return xhttp.SuccessResponse(c, h.positions.RecentTrades(req.Limit))
	}

	to := util.ParseTimeDefault(req.To, time.Now())
	from := util.ParseTimeDefault(req.From, to.Add(-24*time.Hour))
	trades, err := h.storage.QueryTrades(c.Request().Context(), asset, from, to, req.Limit)
	if err != nil {
		h.logger.Error("trade query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, trades)
}

// Health reports liveness.
func (h *DashboardHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}
