package httpserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/stock-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/stock-analyzer/internal/config"
	"github.com/fairyhunter13/stock-analyzer/internal/service/ratelimiter"
)

const apiKeyHeader = "X-API-Key"

// APIKeyAuth enforces the shared-key scheme on the API group. Keys are
// compared as SHA-256 digests so the comparison is constant time regardless
// of length. With no key configured (dev, test) the middleware passes
// everything through; Load guarantees a key in prod.
func APIKeyAuth(cfg config.Config) func(http.Handler) http.Handler {
	keySum := sha256.Sum256([]byte(cfg.APIKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.AuthEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			presented := r.Header.Get(apiKeyHeader)
			if presented == "" {
				writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid API key", nil)
				return
			}
			presentedSum := sha256.Sum256([]byte(presented))
			if subtle.ConstantTimeCompare(presentedSum[:], keySum[:]) != 1 {
				writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit applies the per-credential token bucket. The bucket key is the
// SHA-256 of the presented credential so raw keys never sit in the limiter
// map; with auth disabled the remote address stands in for the credential.
// A limiter failure fails open: throttling is protection, not correctness.
func RateLimit(cfg config.Config, limiter ratelimiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RateLimitEnabled || limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			dec, err := limiter.Allow(r.Context(), limiterKey(r))
			if err != nil {
				LoggerFrom(r).Warn("rate limiter unavailable", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if !dec.Allowed {
				observability.RateLimitRejected()
				if dec.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(dec.RetryAfter.Seconds()))))
				}
				writeErrorCode(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TooManyRequests writes the throttling envelope. The router hands it to the
// per-IP limiter so both throttles answer in the same format.
func TooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeErrorCode(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil)
}

func limiterKey(r *http.Request) string {
	cred := r.Header.Get(apiKeyHeader)
	if cred == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		cred = host
	}
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:])
}
