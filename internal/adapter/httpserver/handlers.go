package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/stock-analyzer/internal/config"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/internal/usecase"
)

// maxBodyBytes caps JSON request bodies; the largest legitimate payload is a
// 500-symbol bulk submission, far below this.
const maxBodyBytes = 1 << 20

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Jobs      *usecase.JobService
	Results   usecase.ResultService
	Watchlist usecase.WatchlistService
	Catalog   usecase.CatalogService
	DBCheck   func(context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, jobs *usecase.JobService, results usecase.ResultService, watchlist usecase.WatchlistService, catalog usecase.CatalogService, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Jobs: jobs, Results: results, Watchlist: watchlist, Catalog: catalog, DBCheck: dbCheck}
}

type submissionResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

type jobStatusResponse struct {
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	Completed     int        `json:"completed"`
	Total         int        `json:"total"`
	Successful    int        `json:"successful"`
	Errors        string     `json:"errors"`
	CurrentIndex  *int       `json:"current_index"`
	CurrentTicker *string    `json:"current_ticker"`
	Message       string     `json:"message"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

func jobResponse(j domain.Job) jobStatusResponse {
	errs := j.Errors
	if errs == "" {
		errs = "[]"
	}
	return jobStatusResponse{
		JobID:         j.ID,
		Status:        string(j.Status),
		Progress:      j.Progress,
		Completed:     j.Completed,
		Total:         j.Total,
		Successful:    j.Successful,
		Errors:        errs,
		CurrentIndex:  j.CurrentIndex,
		CurrentTicker: j.CurrentTicker,
		Message:       j.Message,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}

type historyItem struct {
	ID           int64           `json:"id"`
	Ticker       string          `json:"ticker"`
	Symbol       string          `json:"symbol"`
	AnalysisData json.RawMessage `json:"analysis_data"`
	CreatedAt    time.Time       `json:"created_at"`
	JobID        *string         `json:"job_id"`
}

func historyItemFor(r domain.AnalysisResult) historyItem {
	data := json.RawMessage(r.RawData)
	if !json.Valid(data) {
		data, _ = json.Marshal(r.RawData)
	}
	return historyItem{
		ID:           r.ID,
		Ticker:       r.Ticker,
		Symbol:       r.Symbol,
		AnalysisData: data,
		CreatedAt:    r.CreatedAt,
		JobID:        r.JobID,
	}
}

type stockItem struct {
	ID       int64  `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Sector   string `json:"sector"`
	Exchange string `json:"exchange"`
	Ticker   string `json:"ticker"`
}

type watchlistEntry struct {
	ID        int64     `json:"id"`
	Ticker    string    `json:"ticker"`
	Symbol    string    `json:"symbol"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

func watchlistEntryFor(it domain.WatchlistItem) watchlistEntry {
	return watchlistEntry{ID: it.ID, Ticker: it.Ticker, Symbol: it.Symbol, Notes: it.Notes, CreatedAt: it.CreatedAt}
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeErrorCode(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "request body too large", nil)
		return
	}
	writeErrorCode(w, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body", nil)
}

// tickersValid pattern-checks the non-blank entries of a submission list.
// Blank entries are dropped downstream; an all-blank list fails there too.
func tickersValid(field string, list []string) []ValidationError {
	for _, raw := range list {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if t, ok := NormalizeTicker(raw); !ok {
			return []ValidationError{{Field: field, Code: "INVALID_TICKER",
				Message: fmt.Sprintf("ticker %q is invalid", t)}}
		}
	}
	return nil
}

// AnalyzeHandler accepts an explicit ticker list and starts a background job.
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req analyzeRequest
		verrs, err := decodeJSON(r, &req)
		if err != nil {
			writeDecodeError(w, err)
			return
		}
		if verrs == nil {
			verrs = validateStruct(req)
		}
		if verrs == nil {
			verrs = tickersValid("tickers", req.Tickers)
		}
		if verrs != nil {
			writeValidationError(w, verrs)
			return
		}
		job, err := s.Jobs.Submit(r.Context(), req.Tickers, req.settings(s.Cfg.DataPeriod))
		if err != nil {
			writeError(w, r, err, CodeAnalysisError)
			return
		}
		writeJSON(w, http.StatusOK, submissionResponse{JobID: job.ID, Status: string(job.Status), Total: job.Total})
	}
}

// BulkAnalyzeHandler starts an analyze-all job. An empty or omitted symbols
// list targets the whole stock catalogue, bounded server-side.
func (s *Server) BulkAnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req bulkRequest
		verrs, err := decodeJSON(r, &req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeDecodeError(w, err)
			return
		}
		if verrs == nil {
			verrs = validateStruct(req)
		}
		if verrs == nil {
			verrs = tickersValid("symbols", req.Symbols)
		}
		if verrs != nil {
			writeValidationError(w, verrs)
			return
		}
		job, err := s.Jobs.SubmitBulk(r.Context(), req.Symbols, req.settings(s.Cfg.DataPeriod))
		if err != nil {
			writeError(w, r, err, CodeBulkAnalysisError)
			return
		}
		writeJSON(w, http.StatusOK, submissionResponse{JobID: job.ID, Status: string(job.Status), Total: job.Total})
	}
}

// StatusHandler returns the live job record.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "job_id")
		if verrs := ValidateJobID(id); verrs != nil {
			writeValidationError(w, verrs)
			return
		}
		job, err := s.Jobs.Status(r.Context(), id)
		if err != nil {
			writeError(w, r, err, CodeStatusError)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(job))
	}
}

// CancelHandler requests cooperative cancellation and returns the updated
// record; in-flight tickers finish, queued ones are skipped.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "job_id")
		if verrs := ValidateJobID(id); verrs != nil {
			writeValidationError(w, verrs)
			return
		}
		job, err := s.Jobs.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, r, err, CodeStatusError)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse(job))
	}
}

// HistoryHandler returns one page of a ticker's stored analyses, newest
// first by default.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, ok := NormalizeTicker(chi.URLParam(r, "ticker"))
		if !ok {
			writeErrorCode(w, http.StatusBadRequest, CodeInvalidTicker, "ticker is invalid", nil)
			return
		}
		page, verrs := parsePageRequest(r, []string{"created_at", "id"}, "created_at", "desc")
		if verrs != nil {
			writeValidationError(w, verrs)
			return
		}
		results, total, err := s.Results.History(r.Context(), ticker, page)
		if err != nil {
			writeError(w, r, err, CodeHistoryError)
			return
		}
		items := make([]historyItem, 0, len(results))
		for _, res := range results {
			items = append(items, historyItemFor(res))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ticker":     ticker,
			"history":    items,
			"pagination": paginationFor(page, total),
			"meta":       metaFor(page),
		})
	}
}

// StocksHandler lists the stock catalogue with pagination and search.
func (s *Server) StocksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, verrs := parsePageRequest(r, []string{"symbol", "name", "sector"}, "symbol", "asc")
		search := r.URL.Query().Get("search")
		if sErrs := ValidateSearchQuery(search); sErrs != nil {
			verrs = append(verrs, sErrs...)
		}
		if verrs != nil {
			writeValidationError(w, verrs)
			return
		}
		stocks, total, err := s.Catalog.List(r.Context(), page, search)
		if err != nil {
			writeError(w, r, err, CodeStockLookupError)
			return
		}
		items := make([]stockItem, 0, len(stocks))
		for _, st := range stocks {
			items = append(items, stockItem{
				ID:       st.ID,
				Symbol:   st.Symbol,
				Name:     st.Name,
				Sector:   st.Sector,
				Exchange: st.Exchange,
				Ticker:   st.Ticker(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":       items,
			"pagination": paginationFor(page, total),
			"meta":       metaFor(page),
		})
	}
}

// WatchlistListHandler returns every tracked ticker, newest first.
func (s *Server) WatchlistListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := s.Watchlist.List(r.Context())
		if err != nil {
			writeError(w, r, err, "")
			return
		}
		entries := make([]watchlistEntry, 0, len(items))
		for _, it := range items {
			entries = append(entries, watchlistEntryFor(it))
		}
		writeJSON(w, http.StatusOK, map[string]any{"watchlist": entries, "count": len(entries)})
	}
}

// WatchlistAddHandler stores a ticker; the symbol key is accepted as an
// alias for ticker.
func (s *Server) WatchlistAddHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req watchlistAddRequest
		verrs, err := decodeJSON(r, &req)
		if err != nil {
			writeDecodeError(w, err)
			return
		}
		if verrs == nil {
			verrs = validateStruct(req)
		}
		if verrs != nil {
			writeValidationError(w, verrs)
			return
		}
		raw := req.Ticker
		if raw == "" {
			raw = req.Symbol
		}
		if raw == "" {
			writeValidationError(w, []ValidationError{{Field: "ticker", Code: "REQUIRED", Message: "is required"}})
			return
		}
		ticker, ok := NormalizeTicker(raw)
		if !ok {
			writeErrorCode(w, http.StatusBadRequest, CodeInvalidTicker, "ticker is invalid", nil)
			return
		}
		item, err := s.Watchlist.Add(r.Context(), ticker, req.Notes)
		if err != nil {
			writeError(w, r, err, "")
			return
		}
		writeJSON(w, http.StatusCreated, watchlistEntryFor(item))
	}
}

// WatchlistRemoveHandler deletes a tracked ticker.
func (s *Server) WatchlistRemoveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, ok := NormalizeTicker(chi.URLParam(r, "ticker"))
		if !ok {
			writeErrorCode(w, http.StatusBadRequest, CodeInvalidTicker, "ticker is invalid", nil)
			return
		}
		if err := s.Watchlist.Remove(r.Context(), ticker); err != nil {
			writeError(w, r, err, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "ticker": ticker})
	}
}

// HealthHandler reports process liveness plus database reachability.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				LoggerFrom(r).Error("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}
