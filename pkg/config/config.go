package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Assets     []string `yaml:"assets"`
	Timeframes []string `yaml:"timeframes"`
	Sources    struct {
		Binance struct {
			Enabled      bool          `yaml:"enabled" default:"true"`
			WebSocketURL string        `yaml:"websocket_url" default:"wss://stream.binance.com:9443/ws"`
			RESTURL      string        `yaml:"rest_url" default:"https://api.binance.com"`
			PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		} `yaml:"binance"`
		Bybit struct {
			Enabled      bool          `yaml:"enabled" default:"true"`
			WebSocketURL string        `yaml:"websocket_url" default:"wss://stream.bybit.com/v5/public/spot"`
			PingInterval time.Duration `yaml:"ping_interval" default:"20s"`
		} `yaml:"bybit"`
		ReconnectDelay   time.Duration `yaml:"reconnect_delay" default:"3s"`
		StaleTimeoutSecs int           `yaml:"stale_timeout_secs" default:"30"`
	} `yaml:"sources"`
	Router struct {
		BufferSize   int `yaml:"buffer_size" default:"2048"`
		MaxPerSecond int `yaml:"max_per_second" default:"50"`
	} `yaml:"router"`
	Warmup struct {
		Candles int           `yaml:"candles" default:"200"`
		Timeout time.Duration `yaml:"timeout" default:"30s"`
	} `yaml:"warmup"`
	Markets struct {
		GammaURL        string        `yaml:"gamma_url" default:"https://gamma-api.polymarket.com"`
		RefreshInterval time.Duration `yaml:"refresh_interval" default:"60s"`
		RequestsPerMin  int           `yaml:"requests_per_min" default:"30"`
	} `yaml:"markets"`
	ML struct {
		MinConfidence         float64 `yaml:"min_confidence" default:"0.55"`
		MinReadyFeatures      int     `yaml:"min_ready_features" default:"8"`
		ZScoreThreshold       float64 `yaml:"zscore_threshold" default:"1.5"`
		RandomForestWeight    float64 `yaml:"random_forest_weight" default:"0.40"`
		GradientBoostWeight   float64 `yaml:"gradient_boost_weight" default:"0.35"`
		LogisticWeight        float64 `yaml:"logistic_weight" default:"0.25"`
		WeightAdjustInterval  int     `yaml:"weight_adjust_interval" default:"10"`
		AccuracyWindow        int     `yaml:"accuracy_window" default:"100"`
		TrainingWindow        int     `yaml:"training_window" default:"2000"`
		RetrainIntervalTrades int     `yaml:"retrain_interval_trades" default:"50"`
		MinTrainSamples       int     `yaml:"min_train_samples" default:"120"`
	} `yaml:"ml"`
	Filters struct {
		MaxSpreadBps15m  float64 `yaml:"max_spread_bps_15m" default:"100"`
		MaxSpreadBps1h   float64 `yaml:"max_spread_bps_1h" default:"150"`
		MinDepthUSDC     float64 `yaml:"min_depth_usdc" default:"5000"`
		MaxVolatility5m  float64 `yaml:"max_volatility_5m" default:"0.02"`
		MinTTLSecs       int64   `yaml:"min_ttl_secs" default:"30"`
		MinConfidence    float64 `yaml:"min_confidence" default:"0.55"`
	} `yaml:"filters"`
	Risk struct {
		BaseSizeUSDC     float64       `yaml:"base_size_usdc" default:"10"`
		PerTradeCapUSDC  float64       `yaml:"per_trade_cap_usdc" default:"25"`
		TotalExposureCap float64       `yaml:"total_exposure_cap_usdc" default:"100"`
		MaxDailyLossUSDC float64       `yaml:"max_daily_loss_usdc" default:"50"`
		HardStopPct      float64       `yaml:"hard_stop_pct" default:"0.05"`
		TakeProfitPct    float64       `yaml:"take_profit_pct" default:"0.05"`
		TrailPct         float64       `yaml:"trail_pct" default:"0.005"`
		TrailArmPct      float64       `yaml:"trail_arm_pct" default:"0.003"`
		MaxHold          time.Duration `yaml:"max_hold" default:"2h"`
		FeeBps           float64       `yaml:"fee_bps" default:"20"`
		InitialBalance   float64       `yaml:"initial_balance_usdc" default:"1000"`
	} `yaml:"risk"`
	Calibration struct {
		WarmupTarget int     `yaml:"warmup_target" default:"30"`
		Alpha        float64 `yaml:"alpha" default:"0.02"`
	} `yaml:"calibration"`
	Trading struct {
		DryRun         bool          `yaml:"dry_run" default:"true"`
		OrderExpiry    time.Duration `yaml:"order_expiry" default:"30s"`
		SubmitRetries  int           `yaml:"submit_retries" default:"5"`
		SubmitBackoff  time.Duration `yaml:"submit_backoff" default:"200ms"`
	} `yaml:"trading"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		TradesTopic  string   `yaml:"trades_topic" default:"polybot.trades"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"polybot"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	State struct {
		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Dir string `yaml:"dir" default:"state"`
	} `yaml:"state"`
}

// Load reads, defaults, and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("POLYBOT_ASSETS"); v != "" {
		c.Assets = strings.Split(v, ",")
	}
	if v := os.Getenv("POLYBOT_DRY_RUN"); v != "" {
		c.Trading.DryRun = v == "true" || v == "1"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.State.Redis.Addr = v
		c.State.Redis.Enabled = true
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = p
	}

	return c, nil
}

// Validate checks startup invariants. A failure here terminates the process
// with exit code 2.
func (c *Config) Validate() error {
	if len(c.Assets) == 0 {
		c.Assets = []string{"BTC", "ETH", "SOL", "XRP"}
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = []string{"15m", "1h"}
	}
	for _, a := range c.Assets {
		switch strings.ToUpper(a) {
		case "BTC", "ETH", "SOL", "XRP":
		default:
			return fmt.Errorf("unknown asset %q", a)
		}
	}
	for _, tf := range c.Timeframes {
		switch strings.ToLower(tf) {
		case "15m", "1h":
		default:
			return fmt.Errorf("unknown timeframe %q", tf)
		}
	}
	wsum := c.ML.RandomForestWeight + c.ML.GradientBoostWeight + c.ML.LogisticWeight
	if wsum <= 0 {
		return fmt.Errorf("ensemble weights must be positive")
	}
	if diff := wsum - 1.0; diff > 1e-9 || diff < -1e-9 {
		return fmt.Errorf("ensemble weights must sum to 1, got %.6f", wsum)
	}
	if c.ML.RandomForestWeight < 0 || c.ML.GradientBoostWeight < 0 || c.ML.LogisticWeight < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}
	if c.ML.MinConfidence < 0 || c.ML.MinConfidence > 1 {
		return fmt.Errorf("ml.min_confidence out of [0,1]: %v", c.ML.MinConfidence)
	}
	if c.Risk.BaseSizeUSDC <= 0 {
		return fmt.Errorf("risk.base_size_usdc must be positive")
	}
	if c.Risk.PerTradeCapUSDC < c.Risk.BaseSizeUSDC*0.5 {
		return fmt.Errorf("risk.per_trade_cap_usdc below minimum tradable size")
	}
	if c.Risk.TotalExposureCap <= 0 {
		return fmt.Errorf("risk.total_exposure_cap_usdc must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	return nil
}
