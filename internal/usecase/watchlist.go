package usecase

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
	"github.com/fairyhunter13/stock-analyzer/pkg/textx"
)

// NotesMaxLen bounds free-form watchlist notes after sanitization.
const NotesMaxLen = 500

// WatchlistService manages the tracked-ticker list.
type WatchlistService struct {
	Watchlist domain.WatchlistStore
}

func NewWatchlistService(w domain.WatchlistStore) WatchlistService {
	return WatchlistService{Watchlist: w}
}

// Add stores a ticker with optional notes. Notes are sanitized (control
// characters stripped) and clipped to NotesMaxLen runes.
func (s WatchlistService) Add(ctx domain.Context, ticker, notes string) (domain.WatchlistItem, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return domain.WatchlistItem{}, fmt.Errorf("%w: ticker is required", domain.ErrInvalidArgument)
	}
	return s.Watchlist.Add(ctx, domain.WatchlistItem{
		Ticker: t,
		Symbol: BaseSymbol(t),
		Notes:  textx.CleanNotes(notes, NotesMaxLen),
	})
}

// List returns every watchlist entry, newest first.
func (s WatchlistService) List(ctx domain.Context) ([]domain.WatchlistItem, error) {
	return s.Watchlist.List(ctx)
}

// Remove deletes a ticker from the watchlist.
func (s WatchlistService) Remove(ctx domain.Context, ticker string) error {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return fmt.Errorf("%w: ticker is required", domain.ErrInvalidArgument)
	}
	return s.Watchlist.Remove(ctx, t)
}
