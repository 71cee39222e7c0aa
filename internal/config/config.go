package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Bus        BusConfig        `mapstructure:"bus"`
	Workers    WorkerConfig     `mapstructure:"workers"`
	Cron       CronConfig       `mapstructure:"cron"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Connectors ConnectorsConfig `mapstructure:"connectors"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	HTTPAddr string `mapstructure:"http_addr"`
	// APIToken guards write endpoints when set.
	APIToken string `mapstructure:"api_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	// OutputPaths accepts zap sinks: "stdout", "stderr" or file paths.
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type DBConfig struct {
	// DSN is a SQLite file path (optionally with query params) or a postgres:// URL.
	DSN             string        `mapstructure:"dsn"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type BusConfig struct {
	JournalPath string `mapstructure:"journal_path"`
}

type WorkerConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Fetch    string `mapstructure:"fetch"`
	Optimize string `mapstructure:"optimize"`
}

type MarketDataConfig struct {
	SKUs           []string `mapstructure:"skus"`
	Market         string   `mapstructure:"market"`
	Sources        []string `mapstructure:"sources"`
	URLs           []string `mapstructure:"urls"`
	Depth          int      `mapstructure:"depth"`
	HorizonMinutes int      `mapstructure:"horizon_minutes"`
}

type DedupConfig struct {
	// Backend is "memory" or "redis".
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type OptimizerConfig struct {
	DefaultAlgorithm string   `mapstructure:"default_algorithm"`
	Lookback         int      `mapstructure:"lookback"`
	SKUs             []string `mapstructure:"skus"`
}

type GovernanceConfig struct {
	Actor string      `mapstructure:"actor"`
	Retry RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

type ConnectorsConfig struct {
	HTTP      HTTPConnectorConfig      `mapstructure:"http"`
	WebSocket WebSocketConnectorConfig `mapstructure:"websocket"`
	Static    StaticConnectorConfig    `mapstructure:"static"`
}

type HTTPConnectorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint may contain a {sku} placeholder.
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type WebSocketConnectorConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type StaticConnectorConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Ticks   []StaticTick `mapstructure:"ticks"`
}

// StaticTick is served for SKU, or for URL when set. Prices are decimal strings.
type StaticTick struct {
	SKU             string   `mapstructure:"sku"`
	URL             string   `mapstructure:"url"`
	OurPrice        string   `mapstructure:"our_price"`
	CompetitorPrice string   `mapstructure:"competitor_price"`
	DemandIndex     *float64 `mapstructure:"demand_index"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "data/pricegov.db")
	v.SetDefault("db.busy_timeout", "5s")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.max_idle_conns", 4)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("bus.journal_path", "data/events.jsonl")
	v.SetDefault("workers.size", 4)
	v.SetDefault("workers.queue_size", 256)
	v.SetDefault("cron.enabled", false)
	v.SetDefault("cron.fetch", "@every 15m")
	v.SetDefault("cron.optimize", "@every 1h")
	v.SetDefault("market_data.market", "DEFAULT")
	v.SetDefault("market_data.sources", []string{"http"})
	v.SetDefault("market_data.depth", 1)
	v.SetDefault("market_data.horizon_minutes", 60)
	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.redis_addr", "127.0.0.1:6379")
	v.SetDefault("dedup.redis_db", 0)
	v.SetDefault("dedup.key_prefix", "pricegov:fetch:")
	v.SetDefault("optimizer.default_algorithm", "rule_based")
	v.SetDefault("optimizer.lookback", 50)
	v.SetDefault("governance.actor", "governance-agent")
	v.SetDefault("governance.retry.max_attempts", 1)
	v.SetDefault("governance.retry.initial_backoff", "50ms")
	v.SetDefault("governance.retry.max_backoff", "1s")
	v.SetDefault("governance.retry.multiplier", 2.0)
	v.SetDefault("connectors.http.enabled", true)
	v.SetDefault("connectors.http.timeout", "10s")
	v.SetDefault("connectors.websocket.enabled", false)
	v.SetDefault("connectors.websocket.read_timeout", "15s")
	v.SetDefault("connectors.static.enabled", false)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
