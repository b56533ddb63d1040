// Unit tests for logic in repository_analysis.go that does not require a
// live PostgreSQL connection. The PreReserve/MarkRunning/MarkFailed/
// MarkCompleted/Query methods themselves need a real database; no test in
// this module covers them. This mirrors the teacher's own
// repository_settlement_test.go split between unit and integration
// coverage.
package database

import "testing"

func TestAnalysisKey_IdentityFields(t *testing.T) {
	a := AnalysisKey{ExecutionID: "exec-1", Symbol: "BTCUSDT", Timeframe: "1h", Strategy: "conservative"}
	b := AnalysisKey{ExecutionID: "exec-1", Symbol: "BTCUSDT", Timeframe: "1h", Strategy: "conservative"}
	if a != b {
		t.Errorf("expected two AnalysisKey values with identical fields to compare equal, got %+v vs %+v", a, b)
	}

	c := AnalysisKey{ExecutionID: "exec-2", Symbol: "BTCUSDT", Timeframe: "1h", Strategy: "conservative"}
	if a == c {
		t.Errorf("expected AnalysisKey values with different execution_id to compare unequal")
	}
}

func TestQueryFilters_ZeroValueMeansUnfiltered(t *testing.T) {
	var f QueryFilters
	if f.Symbol != "" || f.Timeframe != "" || f.Strategy != "" {
		t.Errorf("expected zero-value QueryFilters to have no criteria set, got %+v", f)
	}
}
