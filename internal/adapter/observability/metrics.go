package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_jobs_created_total",
			Help: "Total number of analysis jobs created",
		},
		[]string{"source"},
	)
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "analysis_jobs_in_flight",
			Help: "Number of analysis jobs currently processing",
		},
	)
	JobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_jobs_finished_total",
			Help: "Total number of analysis jobs finished by terminal status",
		},
		[]string{"status"},
	)

	TickerAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticker_analyses_total",
			Help: "Total number of per-ticker analyses by outcome",
		},
		[]string{"outcome"},
	)
	TickerAnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticker_analysis_duration_seconds",
			Help:    "Duration of one ticker analysis in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
	)

	// Score distribution of completed analyses ([0,100]).
	AnalysisScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_score",
			Help:    "Distribution of composite analysis scores",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	MarketDataFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_data_fetches_total",
			Help: "Total number of OHLCV fetches by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	DBRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "db_retries_total",
			Help: "Total number of retried database operations",
		},
	)

	RateLimitRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by the API rate limiter",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(JobsCreatedTotal)
	prometheus.MustRegister(JobsInFlight)
	prometheus.MustRegister(JobsFinishedTotal)
	prometheus.MustRegister(TickerAnalysesTotal)
	prometheus.MustRegister(TickerAnalysisDuration)
	prometheus.MustRegister(AnalysisScoreHistogram)
	prometheus.MustRegister(MarketDataFetchesTotal)
	prometheus.MustRegister(DBRetriesTotal)
	prometheus.MustRegister(RateLimitRejectionsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

func CreateJob(source string) {
	JobsCreatedTotal.WithLabelValues(source).Inc()
}

func StartJob() {
	JobsInFlight.Inc()
}

func FinishJob(status string) {
	JobsInFlight.Dec()
	JobsFinishedTotal.WithLabelValues(status).Inc()
}

// ObserveTickerAnalysis records one settled unit of worker-pool output.
// Outcome is one of ok, error, timeout, cancelled.
func ObserveTickerAnalysis(outcome string, d time.Duration) {
	TickerAnalysesTotal.WithLabelValues(outcome).Inc()
	TickerAnalysisDuration.Observe(d.Seconds())
}

// ObserveScore records the composite score of a completed analysis.
func ObserveScore(score int) {
	if score >= 0 && score <= 100 {
		AnalysisScoreHistogram.Observe(float64(score))
	}
}

func MarketDataFetch(mode, outcome string) {
	MarketDataFetchesTotal.WithLabelValues(mode, outcome).Inc()
}

// DBRetry counts one transient-failure retry inside the persistence layer.
func DBRetry() {
	DBRetriesTotal.Inc()
}

func RateLimitRejected() {
	RateLimitRejectionsTotal.Inc()
}
