//go:build wireinject
// +build wireinject

package di

import (
	"PolyBot/pkg/config"
	"PolyBot/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogBuffer,
		ProvideLogger,
		ProvideMetrics,
		ProvideAssets,
		ProvideTimeframes,
		ProvideHTTPClient,

		// Infrastructure clients
		ProvideStateStore,
		ProvideClickHouseClient,
		ProvideTradeStorage,
		ProvideTradePublisher,
		ProvideOrderGateway,
		ProvideCandleHistory,
		ProvideMarketFetcher,

		// Core services
		ProvideRegistry,
		ProvideAssembler,
		ProvideFeatureEngine,
		ProvideEnsemble,
		ProvideDataset,
		ProvideTrainer,
		ProvideFilters,
		ProvidePositions,
		ProvideCalibrator,

		// Use cases
		ProvideRecorder,
		ProvidePipeline,
		ProvideTickPipeline,
		ProvideStreams,
		ProvideRouter,
		ProvideWarmup,

		// HTTP surface and application
		ProvideDashboardHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
