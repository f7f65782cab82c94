package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/selivandex/lp-advisor/pkg/models"
)

// Config represents application configuration
type Config struct {
	Engine     EngineConfig     `envconfig:"ENGINE"`
	Regime     RegimeConfig     `envconfig:"REGIME"`
	Heat       HeatConfig       `envconfig:"HEAT"`
	Adjust     AdjustConfig     `envconfig:"ADJUST"`
	Retention  RetentionConfig  `envconfig:"RETENTION"`
	Frame      FrameConfig      `envconfig:"FRAME"`
	Market     MarketConfig     `envconfig:"MARKET"`
	Database   DatabaseConfig   `envconfig:"DB"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	Telegram   TelegramConfig   `envconfig:"TELEGRAM"`
	Health     HealthConfig     `envconfig:"HEALTH"`
	Logging    LoggingConfig    `envconfig:"LOG"`
}

// Store backends
const (
	StorePostgres   = "postgres"
	StoreClickHouse = "clickhouse"
	StoreMemory     = "memory"
)

// EngineConfig drives the scheduler loop
type EngineConfig struct {
	Interval       time.Duration `envconfig:"INTERVAL" default:"10s"`
	Pools          PoolList      `envconfig:"POOLS" default:"1:ETH/USDC/3000,1:WBTC/USDC/3000"`
	Store          string        `envconfig:"STORE" default:"postgres"`
	QueueCapacity  int           `envconfig:"QUEUE_CAPACITY" default:"500"`
	MinDwell       time.Duration `envconfig:"MIN_DWELL" default:"2m"`
	RollupLookback time.Duration `envconfig:"ROLLUP_LOOKBACK" default:"20m"`
	StopTimeout    time.Duration `envconfig:"STOP_TIMEOUT" default:"15s"`
}

// RegimeConfig holds the classification cutoffs
type RegimeConfig struct {
	SidewaysVolMax   float64 `envconfig:"SIDEWAYS_VOL_MAX" default:"0.06"`
	SidewaysR2Max    float64 `envconfig:"SIDEWAYS_R2_MAX" default:"0.35"`
	TrendR2Min       float64 `envconfig:"TREND_R2_MIN" default:"0.70"`
	TrendSlopeAbsMin float64 `envconfig:"TREND_SLOPE_ABS_MIN" default:"0.005"`
	VolatileVolMin   float64 `envconfig:"VOLATILE_VOL_MIN" default:"0.12"`
	VolatileR2Max    float64 `envconfig:"VOLATILE_R2_MAX" default:"0.55"`
}

// HeatConfig holds the heat buckets and the confirmations each one demands
type HeatConfig struct {
	CoolThreshold     int `envconfig:"COOL_THRESHOLD" default:"40"`
	HotThreshold      int `envconfig:"HOT_THRESHOLD" default:"70"`
	ConfirmationsCool int `envconfig:"CONFIRMATIONS_COOL" default:"2"`
	ConfirmationsMid  int `envconfig:"CONFIRMATIONS_MID" default:"3"`
	ConfirmationsHot  int `envconfig:"CONFIRMATIONS_HOT" default:"4"`
}

// AdjustConfig holds the heat-driven score multipliers
type AdjustConfig struct {
	ReinvestCoolBoost    float64 `envconfig:"REINVEST_COOL_BOOST" default:"1.15"`
	ReinvestHotPenalty   float64 `envconfig:"REINVEST_HOT_PENALTY" default:"0.80"`
	ReallocateHotBoost   float64 `envconfig:"REALLOCATE_HOT_BOOST" default:"1.20"`
	SuperMacroHotPenalty float64 `envconfig:"SUPER_MACRO_HOT_PENALTY" default:"0.90"`
}

// RetentionConfig holds how long each kind of data is kept
type RetentionConfig struct {
	Ticks  time.Duration `envconfig:"TICKS" default:"72h"`
	Bars1m time.Duration `envconfig:"BARS_1M" default:"336h"`
	Bars5m time.Duration `envconfig:"BARS_5M" default:"4320h"`
}

// For returns the bar retention for an interval
func (r RetentionConfig) For(iv models.Interval) time.Duration {
	if iv == models.IntervalM1 {
		return r.Bars1m
	}
	return r.Bars5m
}

// FrameConfig holds returns-frame query defaults
type FrameConfig struct {
	TakePools   int           `envconfig:"TAKE_POOLS" default:"6"`
	Lookback    time.Duration `envconfig:"LOOKBACK" default:"24h"`
	Interval    string        `envconfig:"INTERVAL" default:"m5"`
	Concurrency int           `envconfig:"CONCURRENCY" default:"4"`

	// MonitorInterval is how often the engine logs frame coverage; 0 disables
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"5m"`
}

// MarketConfig selects where fresh ticks come from
type MarketConfig struct {
	Provider     string        `envconfig:"PROVIDER" default:"stub"` // stub, websocket or coingecko
	FeedURL      string        `envconfig:"FEED_URL"`
	CoinGeckoURL string        `envconfig:"COINGECKO_URL"`
	CoinGeckoRPS float64       `envconfig:"COINGECKO_RPS" default:"0.5"`
	MaxStaleness time.Duration `envconfig:"MAX_STALENESS" default:"1m"`
	Seed         int64         `envconfig:"SEED" default:"0"`
}

// DatabaseConfig represents database connection parameters
type DatabaseConfig struct {
	Host           string `envconfig:"HOST" default:"localhost"`
	Port           int    `envconfig:"PORT" default:"5432"`
	Name           string `envconfig:"NAME" default:"lp_advisor"`
	User           string `envconfig:"USER" default:"postgres"`
	Password       string `envconfig:"PASSWORD"`
	SSLMode        string `envconfig:"SSLMODE" default:"disable"`
	MaxOpenConns   int    `envconfig:"MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns   int    `envconfig:"MAX_IDLE_CONNS" default:"5"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"true"`
}

// ClickHouseConfig represents ClickHouse connection parameters
type ClickHouseConfig struct {
	Enabled       bool          `envconfig:"ENABLED" default:"false"`
	DSN           string        `envconfig:"DSN" default:"clickhouse://localhost:9000/lp_advisor"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"100"`
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"5s"`
}

// RedisConfig represents Redis connection parameters
type RedisConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"false"`
	Host     string        `envconfig:"HOST" default:"localhost"`
	Port     int           `envconfig:"PORT" default:"6379"`
	Password string        `envconfig:"PASSWORD"`
	DB       int           `envconfig:"DB" default:"0"`
	LockKey  string        `envconfig:"LOCK_KEY" default:"lp-advisor:engine"`
	LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	RecsKey  string        `envconfig:"RECS_KEY" default:"lp-advisor:recommendations"`
}

// TelegramConfig represents Telegram alerting configuration
type TelegramConfig struct {
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
	BotToken string `envconfig:"BOT_TOKEN"`
	ChatID   int64  `envconfig:"CHAT_ID"`
}

// HealthConfig represents the probe server
type HealthConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`
	Port    int  `envconfig:"PORT" default:"8080"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
	File   string `envconfig:"FILE"`
}

// PoolList decodes a comma separated list of pools
type PoolList []models.Pool

// Decode implements envconfig.Decoder
func (p *PoolList) Decode(value string) error {
	var pools PoolList
	for _, raw := range strings.Split(value, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		pool, err := models.ParsePool(raw)
		if err != nil {
			return err
		}
		pools = append(pools, pool)
	}
	*p = pools
	return nil
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate rejects structurally broken configuration. Threshold ordering is
// left to the operator.
func (c *Config) Validate() error {
	if len(c.Engine.Pools) == 0 {
		return fmt.Errorf("at least one pool must be configured")
	}
	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine interval must be positive")
	}
	if c.Engine.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}

	switch c.Engine.Store {
	case StorePostgres, StoreMemory:
	case StoreClickHouse:
		if !c.ClickHouse.Enabled {
			return fmt.Errorf("clickhouse store requires CLICKHOUSE_ENABLED=true")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Engine.Store)
	}

	switch c.Market.Provider {
	case "stub", "coingecko":
	case "websocket":
		if c.Market.FeedURL == "" {
			return fmt.Errorf("websocket market provider requires MARKET_FEED_URL")
		}
	default:
		return fmt.Errorf("unknown market provider %q", c.Market.Provider)
	}

	if _, err := models.ParseInterval(c.Frame.Interval); err != nil {
		return err
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram alerts require TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}

	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns host:port of the Redis server
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
