package main

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/stock-analyzer/internal/config"
	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/internal/usecase"
)

//go:embed stocks.yaml
var embeddedStocks []byte

type stockSeedDoc struct {
	Stocks []stockSeedRow `yaml:"stocks"`
}

type stockSeedRow struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Sector   string `yaml:"sector"`
	Exchange string `yaml:"exchange"`
}

// seedStocks upserts the catalogue at boot. The embedded list ships a default
// NSE universe; STOCKS_SEED_FILE replaces it wholesale. Re-seeding refreshes
// names and sectors without touching analysis history.
func seedStocks(ctx domain.Context, catalog usecase.CatalogService, cfg config.Config) error {
	raw := embeddedStocks
	if cfg.StocksSeedFile != "" {
		b, err := os.ReadFile(cfg.StocksSeedFile)
		if err != nil {
			return fmt.Errorf("op=seed.stocks: read %s: %w", cfg.StocksSeedFile, err)
		}
		raw = b
	}

	var doc stockSeedDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("op=seed.stocks: parse: %w", err)
	}
	rows := make([]domain.Stock, 0, len(doc.Stocks))
	for _, s := range doc.Stocks {
		if s.Symbol == "" {
			continue
		}
		if s.Exchange == "" {
			s.Exchange = "NSE"
		}
		rows = append(rows, domain.Stock{
			Symbol:   s.Symbol,
			Name:     s.Name,
			Sector:   s.Sector,
			Exchange: s.Exchange,
		})
	}
	if len(rows) == 0 {
		return fmt.Errorf("op=seed.stocks: no stocks in seed file")
	}
	_, err := catalog.Seed(ctx, rows)
	return err
}
