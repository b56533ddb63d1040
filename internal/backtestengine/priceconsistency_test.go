package backtestengine

import (
	"testing"
	"time"
)

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name           string
		analysisPrice  float64
		entryPrice     float64
		expectedLevel  PriceValidationLevel
		expectConsistent bool
	}{
		{"identical prices", 100, 100, LevelNormal, true},
		{"small move", 100, 100.5, LevelNormal, true},
		{"warning move", 100, 103, LevelWarning, true},
		{"error move", 100, 107, LevelError, false},
		{"critical move", 100, 115, LevelCritical, false},
		{"zero analysis price", 0, 100, LevelCritical, false},
		{"negative entry price", 100, -5, LevelCritical, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(10)
			r := v.Validate(tt.analysisPrice, tt.entryPrice)
			if r.Level != tt.expectedLevel {
				t.Errorf("expected level %s, got %s", tt.expectedLevel, r.Level)
			}
			if r.IsConsistent != tt.expectConsistent {
				t.Errorf("expected consistent=%v, got %v", tt.expectConsistent, r.IsConsistent)
			}
		})
	}
}

func TestValidator_Summary(t *testing.T) {
	v := NewValidator(100)
	now := time.Now()
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	v.Validate(100, 100)
	v.Validate(100, 103)
	v.Validate(100, 115)

	summary := v.Summary(1)
	if summary.Total != 3 {
		t.Fatalf("expected 3 recorded results, got %d", summary.Total)
	}
	if summary.LevelCounts[LevelNormal] != 1 || summary.LevelCounts[LevelWarning] != 1 || summary.LevelCounts[LevelCritical] != 1 {
		t.Errorf("unexpected level counts: %+v", summary.LevelCounts)
	}
}

func TestValidator_HistoryBounded(t *testing.T) {
	v := NewValidator(2)
	for i := 0; i < 5; i++ {
		v.Validate(100, 100)
	}
	if len(v.history) != 2 {
		t.Errorf("expected history bounded to 2, got %d", len(v.history))
	}
}

func TestValidateBacktest(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		sl       float64
		tp       float64
		exit     float64
		duration float64
		wantValid bool
	}{
		{"valid long trade", 100, 95, 110, 105, 120, true},
		{"sl above entry", 100, 101, 110, 105, 120, false},
		{"tp below entry", 100, 95, 99, 97, 120, false},
		{"sl above tp", 100, 96, 95, 95.5, 120, false},
		{"zero duration", 100, 95, 110, 105, 0, false},
		{"unrealistic sub-hour profit", 100, 50, 200, 125, 30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBacktest(tt.entry, tt.sl, tt.tp, tt.exit, tt.duration)
			if result.IsValid != tt.wantValid {
				t.Errorf("expected valid=%v, got %v (issues: %v)", tt.wantValid, result.IsValid, result.Issues)
			}
		})
	}
}
