package usecase

import (
	"log/slog"
	"strings"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

// CatalogService serves the read-only stock catalogue and its seeding.
type CatalogService struct {
	Stocks domain.StockStore
}

func NewCatalogService(stocks domain.StockStore) CatalogService {
	return CatalogService{Stocks: stocks}
}

// List returns one catalogue page plus the total row count. Search matches
// symbol or company name, case-insensitively.
func (s CatalogService) List(ctx domain.Context, p domain.PageRequest, search string) ([]domain.Stock, int, error) {
	return s.Stocks.ListPaged(ctx, p, strings.TrimSpace(search))
}

// Seed upserts the catalogue rows, returning how many were written. Seeding
// an already-populated catalogue refreshes names and sectors in place.
func (s CatalogService) Seed(ctx domain.Context, stocks []domain.Stock) (int, error) {
	n, err := s.Stocks.UpsertBatch(ctx, stocks)
	if err != nil {
		return 0, err
	}
	slog.Info("stock catalogue seeded", slog.Int("rows", n))
	return n, nil
}

// Count reports the catalogue size.
func (s CatalogService) Count(ctx domain.Context) (int, error) {
	return s.Stocks.Count(ctx)
}
