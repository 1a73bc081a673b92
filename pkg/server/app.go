package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/middleware"
	"PolyBot/internal/services/markets"
	"PolyBot/internal/services/positions"
	"PolyBot/internal/usecase"
	pkgch "PolyBot/pkg/clickhouse"
	"PolyBot/pkg/config"
	domrepo "PolyBot/internal/domain/repository"
	xhttp "PolyBot/pkg/http"
	applogger "PolyBot/pkg/logger"
)

// ErrStateCorrupt is returned when persisted state fails to load and no
// fallback exists. The process maps it to exit code 3.
var ErrStateCorrupt = errors.New("persisted state corrupt")

// App encapsulates the application lifecycle.
type App struct {
	cfg          *config.Config
	log          *applogger.Logger
	router       *usecase.TickRouter
	tickPipeline *middleware.TickPipeline
	registry     *markets.Registry
	warmup       *usecase.Warmup
	recorder     *usecase.TradeRecorder
	positions    *positions.Manager
	httpHandler  xhttp.Handler
	httpServer   *xhttp.Server
	chClient     *pkgch.Client
	publisher    domrepo.TradePublisher
	storage      domrepo.TradeStorage
	assets       []models.Asset
	timeframes   []models.Timeframe
}

// New creates an App with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	router *usecase.TickRouter,
	tickPipeline *middleware.TickPipeline,
	registry *markets.Registry,
	warmup *usecase.Warmup,
	recorder *usecase.TradeRecorder,
	posManager *positions.Manager,
	httpHandler xhttp.Handler,
	chClient *pkgch.Client,
	publisher domrepo.TradePublisher,
	storage domrepo.TradeStorage,
	assets []models.Asset,
	timeframes []models.Timeframe,
) *App {
	return &App{
		cfg:          cfg,
		log:          log,
		router:       router,
		tickPipeline: tickPipeline,
		registry:     registry,
		warmup:       warmup,
		recorder:     recorder,
		positions:    posManager,
		httpHandler:  httpHandler,
		chClient:     chClient,
		publisher:    publisher,
		storage:      storage,
		assets:       assets,
		timeframes:   timeframes,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable state first: a corrupt checkpoint with no fallback is fatal
	// before anything mutates.
	if err := a.recorder.RestoreState(ctx); err != nil {
		a.log.Error("state restore failed", applogger.Error(err))
		return errors.Join(ErrStateCorrupt, err)
	}

	if a.storage != nil {
		if err := a.storage.Init(ctx); err != nil {
			return err
		}
	}

	// Historical seeding runs under its own deadline; a cold start is
	// acceptable, a blocked start is not.
	a.warmup.Run(ctx, a.assets, a.timeframes)

	a.recorder.Start(ctx)
	go a.registry.Run(ctx)
	a.tickPipeline.Start(ctx)

	if err := a.router.Start(ctx); err != nil {
		a.log.Error("tick router start failed", applogger.Error(err))
		return err
	}
	a.log.Info("tick router started",
		applogger.Any("assets", a.assets),
		applogger.Any("timeframes", a.timeframes),
		applogger.Bool("dry_run", a.cfg.Trading.DryRun),
	)

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(cancel)
}

func (a *App) shutdown(cancel context.CancelFunc) error {
	// Stop ingestion first so no new state mutates while flushing.
	if err := a.router.Close(); err != nil {
		a.log.Warn("router close error", applogger.Error(err))
	}
	a.tickPipeline.Stop()

	// Open positions are marked Closing with reason shutdown and the
	// final checkpoints flushed synchronously.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer persistCancel()
	if err := a.recorder.PersistOnShutdown(persistCtx); err != nil {
		a.log.Error("shutdown persistence failed", applogger.Error(err))
	}

	cancel()
	a.recorder.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Warn("http shutdown error", applogger.Error(err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
