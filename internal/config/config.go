// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment
// variables. Defaults favor a zero-setup dev run: embedded SQLite, demo
// market data, auth disabled until API_KEY is provided.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`
	// DatabaseURL selects PostgreSQL when set; empty falls back to the
	// embedded SQLite file at SQLitePath.
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/analyzer.db"`
	// APIKey is the shared secret for the X-API-Key header. Required in
	// prod; outside prod an empty key disables auth for local runs.
	APIKey           string `env:"API_KEY"`
	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS" envDefault:"http://localhost:3000"`
	RateLimitEnabled bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitPerMin  int    `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	// Analysis Pipeline Configuration
	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"10"`
	TickerTimeout  time.Duration `env:"TICKER_TIMEOUT" envDefault:"60s"`
	BulkMaxTickers int           `env:"BULK_MAX_TICKERS" envDefault:"500"`
	JobErrorsCap   int           `env:"JOB_ERRORS_CAP" envDefault:"1000"`
	// Market Data Configuration
	DataMode          string        `env:"DATA_MODE" envDefault:"demo"`
	DataPeriod        string        `env:"DATA_PERIOD" envDefault:"1y"`
	MarketDataBaseURL string        `env:"MARKET_DATA_BASE_URL" envDefault:"https://query1.finance.yahoo.com"`
	FetchMaxRetries   int           `env:"FETCH_MAX_RETRIES" envDefault:"2"`
	FetchTimeout      time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	// QuoteCacheURL enables the Redis OHLCV cache when set (redis://host:port/db).
	QuoteCacheURL string        `env:"QUOTE_CACHE_URL"`
	QuoteCacheTTL time.Duration `env:"QUOTE_CACHE_TTL" envDefault:"15m"`
	// StrategyFile overrides the embedded strategy presets when set.
	StrategyFile string `env:"STRATEGY_FILE"`
	// StocksSeedFile overrides the embedded stock catalogue when set.
	StocksSeedFile string `env:"STOCKS_SEED_FILE"`
	// HTTP Server Configuration
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"35s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// Stale Job Sweeper Configuration
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	StaleJobTimeout time.Duration `env:"STALE_JOB_TIMEOUT" envDefault:"30m"`
	// Observability Configuration
	LogDir       string `env:"LOG_DIR"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"stock-analyzer"`
}

// Load parses the environment and rejects the combinations that must not
// reach production: a missing API key and wildcard CORS.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.IsProd() {
		if cfg.APIKey == "" {
			return Config{}, fmt.Errorf("op=config.Load: API_KEY is required when APP_ENV=prod")
		}
		for _, o := range cfg.CORSOrigins() {
			if o == "*" {
				return Config{}, fmt.Errorf("op=config.Load: wildcard CORS origin is not allowed when APP_ENV=prod")
			}
		}
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	if cfg.JobErrorsCap <= 0 {
		cfg.JobErrorsCap = 1000
	}
	return cfg, nil
}

// IsDev returns true when running in development environment.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd returns true when running in production environment.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest returns true when running in test environment.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// AuthEnabled reports whether X-API-Key auth is enforced. Load guarantees a
// key in prod, so a false here only ever happens in dev and test.
func (c Config) AuthEnabled() bool { return c.APIKey != "" }

// DemoMode reports whether the deterministic generator replaces live fetches.
func (c Config) DemoMode() bool { return strings.ToLower(c.DataMode) != "live" }

// CORSOrigins splits the comma-separated allow list.
func (c Config) CORSOrigins() []string {
	parts := strings.Split(c.CORSAllowOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DBMaxConns sizes the PostgreSQL pool for the worker fan-out plus HTTP
// headroom so progress writes never starve behind analysis reads.
func (c Config) DBMaxConns() int32 { return int32(c.WorkerPoolSize + 10) }
