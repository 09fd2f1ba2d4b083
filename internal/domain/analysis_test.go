package domain

import "testing"

func TestVerdictForScore(t *testing.T) {
	tests := []struct {
		score   int
		verdict Verdict
	}{
		{100, VerdictStrongBuy},
		{80, VerdictStrongBuy},
		{79, VerdictBuy},
		{60, VerdictBuy},
		{59, VerdictNeutral},
		{41, VerdictNeutral},
		{40, VerdictSell}, // 40 sits outside the Neutral band (>40)
		{20, VerdictSell},
		{19, VerdictStrongSell},
		{0, VerdictStrongSell},
	}

	for _, tt := range tests {
		if got := VerdictForScore(tt.score); got != tt.verdict {
			t.Errorf("VerdictForScore(%d) = %q, want %q", tt.score, got, tt.verdict)
		}
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		completed int
		total     int
		expected  int
	}{
		{0, 0, 0},   // empty job guards the divisor
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{5, 10, 50},
		{1, 7, 14},
		{6, 7, 86},
		{20, 20, 100},
	}

	for _, tt := range tests {
		if got := ProgressPercent(tt.completed, tt.total); got != tt.expected {
			t.Errorf("ProgressPercent(%d, %d) = %d, want %d", tt.completed, tt.total, got, tt.expected)
		}
	}
}

func TestValidDataPeriod(t *testing.T) {
	for _, p := range DataPeriods {
		if !ValidDataPeriod(p) {
			t.Errorf("ValidDataPeriod(%q) = false, want true", p)
		}
	}
	for _, p := range []string{"", "7d", "1w", "max", "1Y"} {
		if ValidDataPeriod(p) {
			t.Errorf("ValidDataPeriod(%q) = true, want false", p)
		}
	}
}

func TestCategories(t *testing.T) {
	cats := Categories()
	if len(cats) != 4 {
		t.Fatalf("Categories() returned %d entries, want 4", len(cats))
	}
	expected := []Category{CategoryTrend, CategoryMomentum, CategoryVolatility, CategoryVolume}
	for i, c := range expected {
		if cats[i] != c {
			t.Errorf("Categories()[%d] = %q, want %q", i, cats[i], c)
		}
	}
}
