// Package httpserver contains the HTTP handlers and middleware.
//
// Every response is JSON. Success bodies are objects keyed by domain (never
// raw arrays); failures share one envelope:
//
//	{"error": {"code", "message", "details?", "timestamp"}}
//
// Handlers translate domain sentinel errors into the envelope here so status
// codes and wire codes stay consistent across endpoints.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// Wire error codes. One code per failure the API contract names; 5xx
// fallbacks are per endpoint family.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidTicker      = "INVALID_TICKER"
	CodeJobNotFound        = "JOB_NOT_FOUND"
	CodeJobDuplicate       = "JOB_DUPLICATE"
	CodeJobCancelInvalid   = "JOB_CANCEL_INVALID"
	CodeJobStartFailed     = "JOB_START_FAILED"
	CodeWatchlistDuplicate = "WATCHLIST_DUPLICATE"
	CodeWatchlistNotFound  = "WATCHLIST_NOT_FOUND"
	CodeAnalysisError      = "ANALYSIS_ERROR"
	CodeBulkAnalysisError  = "BULK_ANALYSIS_ERROR"
	CodeHistoryError       = "HISTORY_ERROR"
	CodeStatusError        = "STATUS_ERROR"
	CodeStockLookupError   = "STOCK_LOOKUP_ERROR"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorCode emits the envelope with an explicit status and code.
func writeErrorCode(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: apiError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}})
}

// writeValidationError emits the 400 VALIDATION_ERROR envelope carrying the
// per-field breakdown under details.validation_errors.
func writeValidationError(w http.ResponseWriter, errs []ValidationError) {
	writeErrorCode(w, http.StatusBadRequest, CodeValidation, "validation failed",
		map[string]any{"validation_errors": errs})
}

// writeError maps a domain error onto the envelope. State conflicts and
// missing resources become 4xx with their contract code; anything unmapped
// is a system fault: the body carries only the endpoint's fallback code and
// a generic message while the cause goes to the log with the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	var (
		status  int
		code    string
		message string
	)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		status, code, message = http.StatusNotFound, CodeJobNotFound, "job not found"
	case errors.Is(err, domain.ErrWatchlistNotFound):
		status, code, message = http.StatusNotFound, CodeWatchlistNotFound, "ticker is not in the watchlist"
	case errors.Is(err, domain.ErrCancelInvalid):
		status, code, message = http.StatusConflict, CodeJobCancelInvalid, "job is not cancellable"
	case errors.Is(err, domain.ErrJobDuplicate):
		status, code, message = http.StatusConflict, CodeJobDuplicate, "job id already exists"
	case errors.Is(err, domain.ErrWatchlistDuplicate):
		status, code, message = http.StatusConflict, CodeWatchlistDuplicate, "ticker is already in the watchlist"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code, message = http.StatusBadRequest, CodeValidation, clientMessage(err)
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, CodeUnauthorized, "missing or invalid API key"
	case errors.Is(err, domain.ErrRateLimited):
		status, code, message = http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded"
	case errors.Is(err, domain.ErrJobStartFailed):
		status, code, message = http.StatusInternalServerError, CodeJobStartFailed, "the job could not be started"
	default:
		if fallbackCode == "" {
			fallbackCode = "INTERNAL"
		}
		status, code, message = http.StatusInternalServerError, fallbackCode, "the request could not be completed"
	}
	if status >= http.StatusInternalServerError {
		LoggerFrom(r).Error("request failed",
			slog.String("code", code),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeErrorCode(w, status, code, message, nil)
}

// clientMessage renders a wrapped validation error for the response body,
// trimming the "invalid argument: " sentinel prefix when present.
func clientMessage(err error) string {
	return strings.TrimPrefix(err.Error(), domain.ErrInvalidArgument.Error()+": ")
}

// pagination is the shared page descriptor attached to list responses.
type pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type pageMeta struct {
	Sort  string `json:"sort"`
	Order string `json:"order"`
}

func paginationFor(p domain.PageRequest, total int) pagination {
	pages := 0
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(p.PerPage)))
	}
	return pagination{
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      total,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1 && total > 0,
	}
}

func metaFor(p domain.PageRequest) pageMeta {
	return pageMeta{Sort: p.Sort, Order: p.Order}
}
