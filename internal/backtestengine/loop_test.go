package backtestengine

import (
	"testing"
	"time"
)

func TestComputeMetrics_EmptyTradesList(t *testing.T) {
	m := ComputeMetrics(nil)
	if m.TotalTrades != 0 {
		t.Errorf("expected zero trades, got %d", m.TotalTrades)
	}
}

func TestComputeMetrics_WinRateExcludesBreakevens(t *testing.T) {
	trades := []Trade{
		{Outcome: OutcomeProfit, PnLPercent: 5, Leverage: 2, ConsistencyScore: 1},
		{Outcome: OutcomeProfit, PnLPercent: 3, Leverage: 2, ConsistencyScore: 1},
		{Outcome: OutcomeLoss, PnLPercent: -2, Leverage: 2, ConsistencyScore: 1},
		{Outcome: OutcomeBreakeven, PnLPercent: 0, Leverage: 2, ConsistencyScore: 1},
	}

	m := ComputeMetrics(trades)
	if m.TotalTrades != 4 {
		t.Fatalf("expected 4 total trades, got %d", m.TotalTrades)
	}
	if m.BreakevenTrades != 1 {
		t.Errorf("expected 1 breakeven trade, got %d", m.BreakevenTrades)
	}
	if m.DecisiveTrades != 3 {
		t.Errorf("expected 3 decisive trades, got %d", m.DecisiveTrades)
	}
	// win rate = wins / decisive, not wins / total: 2 wins out of 3 decisive.
	want := 2.0 / 3.0
	if diff := m.WinRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected win rate %.4f excluding breakevens, got %.4f", want, m.WinRate)
	}
}

func TestComputeMetrics_MaxDrawdown(t *testing.T) {
	trades := []Trade{
		{Outcome: OutcomeProfit, PnLPercent: 10},
		{Outcome: OutcomeLoss, PnLPercent: -15},
		{Outcome: OutcomeProfit, PnLPercent: 2},
	}
	m := ComputeMetrics(trades)
	// cumulative: 10, -5, -3 -> peak 10, trough -5 -> drawdown 15
	if m.MaxDrawdown != 15 {
		t.Errorf("expected max drawdown 15, got %f", m.MaxDrawdown)
	}
}

func TestLookbackDays(t *testing.T) {
	tests := []struct {
		intervalMinutes int
		want            int
	}{
		{1, 1},
		{60, 9},
		{1440, 200},
	}
	for _, tt := range tests {
		if got := lookbackDays(tt.intervalMinutes); got != tt.want {
			t.Errorf("lookbackDays(%d) = %d, want %d", tt.intervalMinutes, got, tt.want)
		}
	}
}

func TestEvaluationBudget(t *testing.T) {
	tests := []struct {
		name            string
		totalMinutes    float64
		intervalMinutes int
		configFloor     int
		want            int
	}{
		{"respects floor", 100, 60, 50, 50},
		{"computed value within bounds", 144000, 60, 10, 1920},
		{"capped at 5000", 10000000, 1, 1, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluationBudget(tt.totalMinutes, tt.intervalMinutes, tt.configFloor); got != tt.want {
				t.Errorf("evaluationBudget() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAlignEvaluationStart(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 17, 0, 0, time.UTC)
	aligned := alignEvaluationStart(base, 60)
	if aligned.Before(base) {
		t.Fatalf("aligned start %v must not be before requested start %v", aligned, base)
	}
	if aligned.Minute() != 0 {
		t.Errorf("expected hour-aligned start, got %v", aligned)
	}
}

func TestTruncateSeries_NoLookAhead(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := OHLCVSeries{
		Candles: []Candle{
			candleAt(base, 1, 2, 0.5, 1.5),
			candleAt(base.Add(time.Hour), 2, 3, 1.5, 2.5),
			candleAt(base.Add(2*time.Hour), 3, 4, 2.5, 3.5),
		},
	}

	truncated := truncateSeries(series, base.Add(time.Hour))
	if len(truncated.Candles) != 2 {
		t.Fatalf("expected truncation to keep 2 candles, got %d", len(truncated.Candles))
	}
	for _, c := range truncated.Candles {
		if c.Timestamp.After(base.Add(time.Hour)) {
			t.Fatalf("truncated series must never contain a candle after the cutoff, found %v", c.Timestamp)
		}
	}
}
