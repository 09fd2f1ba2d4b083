// Package app wires configuration, middleware, routes and background loops
// into the running service.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/httpserver"
	"github.com/fairyhunter13/stock-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/stock-analyzer/internal/config"
	"github.com/fairyhunter13/stock-analyzer/internal/service/ratelimiter"
)

// BuildRouter constructs the HTTP handler with all middleware and routes.
// Health and metrics sit outside the /api group so probes and scrapers need
// no credentials; everything under /api passes auth and both throttles.
func BuildRouter(cfg config.Config, srv *httpserver.Server, limiter ratelimiter.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(requestTimeout(cfg)))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", srv.HealthHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Mutating endpoints additionally carry a per-IP cap: the credential
	// bucket alone would let one flooding host burn the shared key's budget.
	perIP := passthrough
	if cfg.RateLimitEnabled && cfg.RateLimitPerMin > 0 {
		perIP = httprate.Limit(cfg.RateLimitPerMin, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(httpserver.TooManyRequests),
		)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(httpserver.APIKeyAuth(cfg))
		api.Use(httpserver.RateLimit(cfg, limiter))

		api.Route("/analysis", func(ar chi.Router) {
			ar.With(perIP).Post("/analyze", srv.AnalyzeHandler())
			ar.Get("/status/{job_id}", srv.StatusHandler())
			ar.With(perIP).Post("/cancel/{job_id}", srv.CancelHandler())
			ar.Get("/history/{ticker}", srv.HistoryHandler())
		})
		api.Route("/stocks", func(sr chi.Router) {
			sr.With(perIP).Post("/analyze-all-stocks", srv.BulkAnalyzeHandler())
			sr.Get("/all", srv.StocksHandler())
		})
		api.Route("/watchlist", func(wr chi.Router) {
			wr.Get("/", srv.WatchlistListHandler())
			wr.With(perIP).Post("/", srv.WatchlistAddHandler())
			wr.With(perIP).Delete("/{ticker}", srv.WatchlistRemoveHandler())
		})
	})

	return httpserver.SecurityHeaders(r)
}

func requestTimeout(cfg config.Config) time.Duration {
	if cfg.RequestTimeout > 0 {
		return cfg.RequestTimeout
	}
	return 30 * time.Second
}

func passthrough(next http.Handler) http.Handler { return next }
