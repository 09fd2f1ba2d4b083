package usecase

import (
	"strings"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// ResultService reads historical analysis results.
type ResultService struct {
	Results domain.ResultStore
}

func NewResultService(results domain.ResultStore) ResultService {
	return ResultService{Results: results}
}

// History returns one page of a ticker's past analyses plus the total count.
func (s ResultService) History(ctx domain.Context, ticker string, p domain.PageRequest) ([]domain.AnalysisResult, int, error) {
	return s.Results.HistoryPaged(ctx, strings.ToUpper(strings.TrimSpace(ticker)), p)
}

// Recent returns the newest limit results for a ticker without pagination.
func (s ResultService) Recent(ctx domain.Context, ticker string, limit int) ([]domain.AnalysisResult, error) {
	return s.Results.History(ctx, strings.ToUpper(strings.TrimSpace(ticker)), limit)
}
