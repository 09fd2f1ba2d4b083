// Package strategy holds the weighting presets consumed by the analyzer.
// Three presets ship embedded in the binary; STRATEGY_FILE swaps the whole
// book at startup. Per-request category weights overlay a preset for one
// job without touching the book.
package strategy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/stock-analyzer/internal/domain"
)

//go:embed presets.yaml
var presetsYAML []byte

// Strategy is one preset: category weights for vote aggregation plus the
// stop/target parameters of the trade plan.
type Strategy struct {
	ID              int                `yaml:"id"`
	Name            string             `yaml:"name"`
	Weights         map[string]float64 `yaml:"weights"`
	StopATRMult     float64            `yaml:"stop_atr_mult"`
	StopFallbackPct float64            `yaml:"stop_fallback_pct"`
	RiskReward      float64            `yaml:"risk_reward"`
}

// Weight returns the aggregation weight for a category.
func (s Strategy) Weight(c domain.Category) float64 {
	return s.Weights[string(c)]
}

// Apply returns a copy of the strategy with the given category weights laid
// over the preset ones. Unknown categories and negative weights are
// ignored; a nil or empty map returns the strategy unchanged.
func (s Strategy) Apply(overrides map[string]float64) Strategy {
	if len(overrides) == 0 {
		return s
	}
	merged := make(map[string]float64, len(s.Weights))
	for k, v := range s.Weights {
		merged[k] = v
	}
	for _, c := range domain.Categories() {
		if v, ok := overrides[string(c)]; ok && v >= 0 {
			merged[string(c)] = v
		}
	}
	s.Weights = merged
	return s
}

// Book is the loaded preset set, keyed by strategy id.
type Book struct {
	byID      map[int]Strategy
	defaultID int
}

type presetsFile struct {
	Default    int        `yaml:"default"`
	Strategies []Strategy `yaml:"strategies"`
}

// Load parses the preset book from path, or from the embedded presets when
// path is empty.
func Load(path string) (*Book, error) {
	raw := presetsYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("op=strategy.load: %w", err)
		}
		raw = b
	}
	var doc presetsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("op=strategy.load: %w", err)
	}
	if len(doc.Strategies) == 0 {
		return nil, fmt.Errorf("op=strategy.load: no strategies defined")
	}
	book := &Book{byID: make(map[int]Strategy, len(doc.Strategies))}
	for _, s := range doc.Strategies {
		if err := validate(s); err != nil {
			return nil, fmt.Errorf("op=strategy.load: preset %d: %w", s.ID, err)
		}
		if _, dup := book.byID[s.ID]; dup {
			return nil, fmt.Errorf("op=strategy.load: duplicate preset id %d", s.ID)
		}
		book.byID[s.ID] = s
	}
	book.defaultID = doc.Default
	if book.defaultID == 0 {
		book.defaultID = doc.Strategies[0].ID
	}
	if _, ok := book.byID[book.defaultID]; !ok {
		return nil, fmt.Errorf("op=strategy.load: default preset %d not defined", book.defaultID)
	}
	return book, nil
}

func validate(s Strategy) error {
	if s.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	total := 0.0
	for _, c := range domain.Categories() {
		w, ok := s.Weights[string(c)]
		if !ok {
			return fmt.Errorf("missing weight for category %s", c)
		}
		if w < 0 {
			return fmt.Errorf("negative weight for category %s", c)
		}
		total += w
	}
	if total == 0 {
		return fmt.Errorf("all category weights are zero")
	}
	if s.StopATRMult <= 0 {
		return fmt.Errorf("stop_atr_mult must be positive")
	}
	if s.StopFallbackPct <= 0 || s.StopFallbackPct >= 100 {
		return fmt.Errorf("stop_fallback_pct must be in (0,100)")
	}
	if s.RiskReward <= 0 {
		return fmt.Errorf("risk_reward must be positive")
	}
	return nil
}

// Get resolves a preset by id.
func (b *Book) Get(id int) (Strategy, error) {
	s, ok := b.byID[id]
	if !ok {
		return Strategy{}, fmt.Errorf("op=strategy.get: unknown strategy id %d: %w", id, domain.ErrInvalidArgument)
	}
	return s, nil
}

// Default returns the book's default preset.
func (b *Book) Default() Strategy {
	return b.byID[b.defaultID]
}

// IDs lists the available preset ids in ascending order.
func (b *Book) IDs() []int {
	out := make([]int, 0, len(b.byID))
	for id := range b.byID {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
