package di

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"PolyBot/internal/domain/models"
	domrepo "PolyBot/internal/domain/repository"
	"PolyBot/internal/handler/api"
	mid "PolyBot/internal/middleware"
	internalrepo "PolyBot/internal/repository"
	"PolyBot/internal/service/binance"
	"PolyBot/internal/service/bybit"
	"PolyBot/internal/services/calibration"
	"PolyBot/internal/services/candles"
	"PolyBot/internal/services/features"
	"PolyBot/internal/services/filters"
	"PolyBot/internal/services/markets"
	"PolyBot/internal/services/ml"
	"PolyBot/internal/services/positions"
	"PolyBot/internal/usecase"
	"PolyBot/pkg/cache"
	pkgch "PolyBot/pkg/clickhouse"
	"PolyBot/pkg/config"
	xhttp "PolyBot/pkg/http"
	pkgkafka "PolyBot/pkg/kafka"
	"PolyBot/pkg/logger"
	"PolyBot/pkg/metrics"
	"PolyBot/pkg/server"
)

// ProvideLogBuffer creates the in-memory log ring served by /api/logs.
func ProvideLogBuffer() *api.LogBuffer { return api.NewLogBuffer(500) }

// ProvideLogger creates the application logger with the dashboard log
// collector attached.
func ProvideLogger(cfg *config.Config, logs *api.LogBuffer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l.AddCollector(&logger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          "polybot.logs",
		Publisher:      logs,
	})
	return l, nil
}

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics() domrepo.Metrics { return metrics.New() }

// ProvideAssets resolves the configured asset set.
func ProvideAssets(cfg *config.Config) ([]models.Asset, error) {
	out := make([]models.Asset, 0, len(cfg.Assets))
	for _, s := range cfg.Assets {
		a, err := models.ParseAsset(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ProvideTimeframes resolves the configured timeframe set.
func ProvideTimeframes(cfg *config.Config) ([]models.Timeframe, error) {
	out := make([]models.Timeframe, 0, len(cfg.Timeframes))
	for _, s := range cfg.Timeframes {
		tf, err := models.ParseTimeframe(s)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// ProvideHTTPClient creates the shared REST client.
func ProvideHTTPClient() *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(15 * time.Second))
}

// ProvideStateStore builds the durable checkpoint store: layered
// memory+Redis when Redis is enabled, local files otherwise.
func ProvideStateStore(cfg *config.Config) (domrepo.StateStore, error) {
	if cfg.State.Redis.Enabled {
		rc, err := cache.NewRedisCache(
			cache.WithRedisHost(hostOf(cfg.State.Redis.Addr)),
			cache.WithRedisPort(portOf(cfg.State.Redis.Addr)),
			cache.WithRedisPassword(cfg.State.Redis.Password),
			cache.WithRedisDB(cfg.State.Redis.DB),
			cache.WithRedisPrefix("polybot"),
		)
		if err != nil {
			return nil, fmt.Errorf("redis state store: %w", err)
		}
		return internalrepo.NewCacheStateStore(cache.NewLayeredCache(rc), "state"), nil
	}
	return internalrepo.NewFileStateStore(cfg.State.Dir)
}

// ProvideClickHouseClient connects when the backend is enabled, nil
// otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideTradeStorage builds the durable trade store, nil when disabled.
func ProvideTradeStorage(chClient *pkgch.Client, cfg *config.Config) domrepo.TradeStorage {
	if chClient == nil {
		return nil
	}
	return internalrepo.NewClickHouseTradeStore(chClient.DB(), cfg.ClickHouse.Database)
}

// ProvideTradePublisher builds the Kafka trade publisher, nil when disabled.
func ProvideTradePublisher(cfg *config.Config) (domrepo.TradePublisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaTradePublisher(producer, cfg.Kafka.TradesTopic), nil
}

// ProvideOrderGateway routes orders to the simulator in dry-run mode.
func ProvideOrderGateway(cfg *config.Config, client *xhttp.Client) domrepo.OrderGateway {
	if cfg.Trading.DryRun {
		return internalrepo.NewSimulatedOrderGateway()
	}
	return internalrepo.NewHTTPOrderGateway(client, cfg.Markets.GammaURL)
}

// ProvideCandleHistory builds the warm-up candle fetcher.
func ProvideCandleHistory(client *xhttp.Client, cfg *config.Config) domrepo.CandleHistory {
	return internalrepo.NewBinanceCandleHistory(client, cfg.Sources.Binance.RESTURL)
}

// ProvideMarketFetcher builds the Gamma market resolver.
func ProvideMarketFetcher(client *xhttp.Client, cfg *config.Config, assets []models.Asset) domrepo.MarketFetcher {
	return internalrepo.NewGammaMarketFetcher(client, cfg.Markets.GammaURL, assets)
}

// ProvideRegistry builds the refreshing market registry.
func ProvideRegistry(fetcher domrepo.MarketFetcher, cfg *config.Config, log *logger.Logger) *markets.Registry {
	return markets.New(fetcher, cfg.Markets.RefreshInterval, cfg.Markets.RequestsPerMin, log)
}

// ProvideAssembler builds the candle assembler.
func ProvideAssembler(cfg *config.Config) *candles.Assembler {
	return candles.New(cfg.Warmup.Candles)
}

// ProvideFeatureEngine builds the feature engine.
func ProvideFeatureEngine(log *logger.Logger) *features.Engine {
	return features.New(log)
}

// ProvideEnsemble builds the predictor ensemble.
func ProvideEnsemble(cfg *config.Config, log *logger.Logger) (*ml.Ensemble, error) {
	return ml.NewEnsemble(ml.Config{
		MinConfidence:        cfg.ML.MinConfidence,
		MinReadyFeatures:     cfg.ML.MinReadyFeatures,
		ZScoreThreshold:      cfg.ML.ZScoreThreshold,
		WeightAdjustInterval: cfg.ML.WeightAdjustInterval,
		AccuracyWindow:       cfg.ML.AccuracyWindow,
		RandomForestWeight:   cfg.ML.RandomForestWeight,
		GradientBoostWeight:  cfg.ML.GradientBoostWeight,
		LogisticWeight:       cfg.ML.LogisticWeight,
	}, log)
}

// ProvideDataset builds the sliding training window.
func ProvideDataset(cfg *config.Config) *ml.Dataset {
	return ml.NewDataset(cfg.ML.TrainingWindow)
}

// ProvideTrainer builds the retraining gate.
func ProvideTrainer(cfg *config.Config, ens *ml.Ensemble, ds *ml.Dataset, log *logger.Logger) *ml.Trainer {
	return ml.NewTrainer(ml.TrainerConfig{
		RetrainIntervalTrades: cfg.ML.RetrainIntervalTrades,
		MinTrainSamples:       cfg.ML.MinTrainSamples,
		Hysteresis:            0.02,
		TrainFrac:             0.8,
	}, ens, ds, log)
}

// ProvideFilters builds the smart filter engine.
func ProvideFilters(cfg *config.Config, m domrepo.Metrics) *filters.Engine {
	return filters.New(filters.Config{
		MaxSpreadBps15m: cfg.Filters.MaxSpreadBps15m,
		MaxSpreadBps1h:  cfg.Filters.MaxSpreadBps1h,
		MinDepthUSDC:    cfg.Filters.MinDepthUSDC,
		MaxVolatility5m: cfg.Filters.MaxVolatility5m,
		MinTTLSecs:      cfg.Filters.MinTTLSecs,
		MinConfidence:   cfg.Filters.MinConfidence,
		MaxDailyLoss:    cfg.Risk.MaxDailyLossUSDC,
	}, m)
}

// ProvidePositions builds the position manager.
func ProvidePositions(cfg *config.Config, gateway domrepo.OrderGateway, m domrepo.Metrics, log *logger.Logger) *positions.Manager {
	return positions.New(positions.Config{
		BaseSizeUSDC:     cfg.Risk.BaseSizeUSDC,
		PerTradeCapUSDC:  cfg.Risk.PerTradeCapUSDC,
		TotalExposureCap: cfg.Risk.TotalExposureCap,
		MaxDailyLossUSDC: cfg.Risk.MaxDailyLossUSDC,
		HardStopPct:      cfg.Risk.HardStopPct,
		TakeProfitPct:    cfg.Risk.TakeProfitPct,
		TrailPct:         cfg.Risk.TrailPct,
		TrailArmPct:      cfg.Risk.TrailArmPct,
		MaxHold:          cfg.Risk.MaxHold,
		FeeBps:           cfg.Risk.FeeBps,
		InitialBalance:   cfg.Risk.InitialBalance,
		SubmitRetries:    cfg.Trading.SubmitRetries,
		SubmitBackoff:    cfg.Trading.SubmitBackoff,
		DryRun:           cfg.Trading.DryRun,
	}, gateway, m, log)
}

// ProvideCalibrator builds the per-market calibration table.
func ProvideCalibrator(cfg *config.Config) *calibration.Calibrator {
	return calibration.New(calibration.Config{
		WarmupTarget: cfg.Calibration.WarmupTarget,
		Alpha:        cfg.Calibration.Alpha,
	})
}

// ProvideRecorder wires the closure feedback loop.
func ProvideRecorder(
	calibrator *calibration.Calibrator,
	ens *ml.Ensemble,
	trainer *ml.Trainer,
	filterEngine *filters.Engine,
	posManager *positions.Manager,
	state domrepo.StateStore,
	publisher domrepo.TradePublisher,
	storage domrepo.TradeStorage,
	m domrepo.Metrics,
	log *logger.Logger,
) *usecase.TradeRecorder {
	return usecase.NewTradeRecorder(calibrator, ens, trainer, filterEngine, posManager, state, publisher, storage, m, log)
}

// ProvidePipeline wires the per-tick decision path.
func ProvidePipeline(
	assembler *candles.Assembler,
	engine *features.Engine,
	ens *ml.Ensemble,
	filterEngine *filters.Engine,
	posManager *positions.Manager,
	calibrator *calibration.Calibrator,
	registry *markets.Registry,
	recorder *usecase.TradeRecorder,
	m domrepo.Metrics,
	log *logger.Logger,
	timeframes []models.Timeframe,
) *usecase.DecisionPipeline {
	return usecase.NewDecisionPipeline(assembler, engine, ens, filterEngine, posManager, calibrator, registry, recorder, m, log, timeframes)
}

// ProvideTickPipeline builds the buffering stage between router and
// decision pipeline.
func ProvideTickPipeline(pipeline *usecase.DecisionPipeline, m domrepo.Metrics, cfg *config.Config) *mid.TickPipeline {
	return mid.NewTickPipeline(pipeline, m,
		mid.WithMaxRPS(cfg.Router.MaxPerSecond),
		mid.WithBufferSize(cfg.Router.BufferSize),
	)
}

// ProvideStreams builds the enabled exchange streams.
func ProvideStreams(cfg *config.Config, assets []models.Asset) []domrepo.TickStream {
	var streams []domrepo.TickStream
	if cfg.Sources.Binance.Enabled {
		streams = append(streams, binance.New(
			cfg.Sources.Binance.WebSocketURL, assets,
			cfg.Sources.ReconnectDelay, cfg.Sources.Binance.PingInterval,
		))
	}
	if cfg.Sources.Bybit.Enabled {
		streams = append(streams, bybit.New(
			cfg.Sources.Bybit.WebSocketURL, assets,
			cfg.Sources.ReconnectDelay, cfg.Sources.Bybit.PingInterval,
		))
	}
	return streams
}

// ProvideRouter builds the tick router.
func ProvideRouter(streams []domrepo.TickStream, tickPipeline *mid.TickPipeline, m domrepo.Metrics, log *logger.Logger, cfg *config.Config) *usecase.TickRouter {
	return usecase.NewTickRouter(streams, tickPipeline, m, log,
		time.Duration(cfg.Sources.StaleTimeoutSecs)*time.Second)
}

// ProvideWarmup builds the historical seeding step.
func ProvideWarmup(history domrepo.CandleHistory, assembler *candles.Assembler, engine *features.Engine, log *logger.Logger, cfg *config.Config) *usecase.Warmup {
	return usecase.NewWarmup(history, assembler, engine, log, cfg.Warmup.Candles, cfg.Warmup.Timeout)
}

// ProvideDashboardHandler builds the read-only snapshot surface.
func ProvideDashboardHandler(
	log *logger.Logger,
	pipeline *usecase.DecisionPipeline,
	posManager *positions.Manager,
	calibrator *calibration.Calibrator,
	ens *ml.Ensemble,
	trainer *ml.Trainer,
	filterEngine *filters.Engine,
	storage domrepo.TradeStorage,
	logs *api.LogBuffer,
	cfg *config.Config,
) xhttp.Handler {
	return api.NewDashboardHandler(log, pipeline, posManager, calibrator, ens, trainer, filterEngine, storage, logs, cfg.Trading.DryRun)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	router *usecase.TickRouter,
	tickPipeline *mid.TickPipeline,
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
) *server.App {
	return server.New(cfg, log, router, tickPipeline, registry, warmup, recorder, posManager, httpHandler, chClient, publisher, storage, assets, timeframes)
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func portOf(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 6379
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 6379
	}
	return p
}
