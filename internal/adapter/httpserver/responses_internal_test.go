package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

func TestPaginationFor(t *testing.T) {
	cases := []struct {
		name  string
		page  domain.PageRequest
		total int
		want  pagination
	}{
		{
			name: "first of three", page: domain.PageRequest{Page: 1, PerPage: 20}, total: 45,
			want: pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3, HasNext: true, HasPrev: false},
		},
		{
			name: "last of three", page: domain.PageRequest{Page: 3, PerPage: 20}, total: 45,
			want: pagination{Page: 3, PerPage: 20, Total: 45, TotalPages: 3, HasNext: false, HasPrev: true},
		},
		{
			name: "empty set", page: domain.PageRequest{Page: 1, PerPage: 20}, total: 0,
			want: pagination{Page: 1, PerPage: 20, Total: 0, TotalPages: 0, HasNext: false, HasPrev: false},
		},
		{
			name: "exact fit", page: domain.PageRequest{Page: 2, PerPage: 10}, total: 20,
			want: pagination{Page: 2, PerPage: 10, Total: 20, TotalPages: 2, HasNext: false, HasPrev: true},
		},
		{
			name: "page past the end", page: domain.PageRequest{Page: 9, PerPage: 10}, total: 20,
			want: pagination{Page: 9, PerPage: 10, Total: 20, TotalPages: 2, HasNext: false, HasPrev: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, paginationFor(tc.page, tc.total))
		})
	}
}

func TestWriteErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		fallback string
		status   int
		code     string
	}{
		{name: "job not found", err: domain.ErrJobNotFound, fallback: CodeStatusError, status: 404, code: CodeJobNotFound},
		{name: "wrapped cancel conflict", err: fmt.Errorf("cancel: %w", domain.ErrCancelInvalid), fallback: CodeStatusError, status: 409, code: CodeJobCancelInvalid},
		{name: "watchlist duplicate", err: domain.ErrWatchlistDuplicate, fallback: "", status: 409, code: CodeWatchlistDuplicate},
		{name: "watchlist not found", err: domain.ErrWatchlistNotFound, fallback: "", status: 404, code: CodeWatchlistNotFound},
		{name: "job duplicate", err: domain.ErrJobDuplicate, fallback: CodeAnalysisError, status: 409, code: CodeJobDuplicate},
		{name: "invalid argument", err: fmt.Errorf("%w: capital must be positive", domain.ErrInvalidArgument), fallback: CodeAnalysisError, status: 400, code: CodeValidation},
		{name: "job start failure", err: fmt.Errorf("op=job.submit: %w: create timed out", domain.ErrJobStartFailed), fallback: CodeAnalysisError, status: 500, code: CodeJobStartFailed},
		{name: "unknown fault uses fallback", err: errors.New("disk on fire"), fallback: CodeHistoryError, status: 500, code: CodeHistoryError},
		{name: "unknown fault no fallback", err: errors.New("disk on fire"), fallback: "", status: 500, code: "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			writeError(rec, req, tc.err, tc.fallback)

			require.Equal(t, tc.status, rec.Code)
			var env errorEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tc.code, env.Error.Code)
			assert.False(t, env.Error.Timestamp.IsZero())
			if tc.status == 500 {
				assert.NotContains(t, env.Error.Message, "disk on fire", "internal detail must not leak")
			}
		})
	}
}

func TestWriteErrorClientMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	writeError(rec, req, fmt.Errorf("%w: 600 tickers exceeds the bulk limit of 500", domain.ErrInvalidArgument), CodeBulkAnalysisError)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "600 tickers exceeds the bulk limit of 500", env.Error.Message,
		"sentinel prefix is trimmed from client-facing messages")
}

func TestWriteValidationErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeValidationError(rec, []ValidationError{{Field: "tickers", Code: "MAX", Message: "must have at most 100 items"}})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, CodeValidation, errObj["code"])
	details := errObj["details"].(map[string]any)
	list := details["validation_errors"].([]any)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	assert.Equal(t, "tickers", entry["field"])
	assert.Equal(t, "MAX", entry["code"])
}
