// Command server starts the stock analysis HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/marketdata"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/sqldb"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/repo/store"
	"github.com/fairyhunter13/stock-analyzer/internal/app"
	"github.com/fairyhunter13/stock-analyzer/internal/config"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/internal/service/ratelimiter"
	"github.com/fairyhunter13/stock-analyzer/internal/strategy"
	"github.com/fairyhunter13/stock-analyzer/internal/usecase"
	"github.com/fairyhunter13/stock-analyzer/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, job and market-data instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.Config{
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		MaxConns:    cfg.DBMaxConns(),
	})
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	slog.Info("database ready", slog.String("dialect", string(db.Dialect())))

	jobs := store.NewJobs(db, cfg.JobErrorsCap)
	results := store.NewResults(db)
	stocks := store.NewStocks(db)
	watch := store.NewWatchlist(db)

	catalogSvc := usecase.NewCatalogService(stocks)
	if err := seedStocks(ctx, catalogSvc, cfg); err != nil {
		slog.Error("stock catalogue seed failed", slog.Any("error", err))
		os.Exit(1)
	}

	book, err := strategy.Load(cfg.StrategyFile)
	if err != nil {
		slog.Error("strategy presets failed to load", slog.Any("error", err))
		os.Exit(1)
	}

	// Market data: the demo generator is always available (requests may ask
	// for it); live mode adds the HTTP client, optionally behind Redis.
	demo := marketdata.NewDemo()
	var market domain.MarketData = demo
	if !cfg.DemoMode() {
		live := marketdata.NewClient(cfg.MarketDataBaseURL, cfg.FetchTimeout, cfg.FetchMaxRetries)
		market = live
		if cfg.QuoteCacheURL != "" {
			opts, err := redis.ParseURL(cfg.QuoteCacheURL)
			if err != nil {
				slog.Error("quote cache URL invalid", slog.Any("error", err))
				os.Exit(1)
			}
			rdb := redis.NewClient(opts)
			defer func() { _ = rdb.Close() }()
			market = marketdata.NewCache(live, rdb, cfg.QuoteCacheTTL)
			slog.Info("quote cache enabled", slog.Duration("ttl", cfg.QuoteCacheTTL))
		}
	}
	analyzer := usecase.NewAnalyzer(market, demo, cfg.DemoMode())

	pool := worker.New(cfg.WorkerPoolSize, cfg.TickerTimeout)
	jobSvc := usecase.NewJobService(jobs, results, stocks, analyzer, pool, book, cfg.BulkMaxTickers)

	limiter := ratelimiter.NewTokenBucketLimiter(ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin))
	defer limiter.Close()

	srv := httpserver.NewServer(cfg, jobSvc,
		usecase.NewResultService(results),
		usecase.NewWatchlistService(watch),
		catalogSvc,
		db.Ping)
	handler := app.BuildRouter(cfg, srv, limiter)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go app.NewSweeper(jobSvc, cfg.StaleJobTimeout, cfg.SweepInterval).Run(sweepCtx)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.String("env", cfg.AppEnv),
			slog.Bool("demo_data", cfg.DemoMode()))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	stopSweeper()
	// running jobs are cancelled cooperatively and drained; anything that
	// cannot finish in time is swept as stale on the next boot
	if err := jobSvc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("job drain incomplete", slog.Any("error", err))
	}
	slog.Info("server stopped")
}
