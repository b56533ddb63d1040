package backtestengine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestJSON(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
	return path
}

func newTestConfigStore(t *testing.T) *ConfigStore {
	t.Helper()
	dir := t.TempDir()

	tfPath := writeTestJSON(t, dir, "timeframe_conditions.json", `{
		"timeframes": {
			"1h": {
				"data_days": 90, "evaluation_interval_minutes": 60, "max_evaluations": 3000,
				"interval_minutes": 60, "min_leverage": 2, "min_confidence": 0.5, "min_risk_reward": 1.5
			}
		}
	}`)
	stratPath := writeTestJSON(t, dir, "trading_conditions.json", `{
		"strategies": {
			"conservative": {
				"sltp_calculator_kind": "conservative", "risk_multiplier": 0.8,
				"confidence_boost": 0, "leverage_cap": 5
			}
		}
	}`)
	levelsPath := writeTestJSON(t, dir, "condition_strictness_levels.json", `{
		"levels": {
			"standard": {"multipliers": {"leverage_factor": 1, "confidence_factor": 1, "risk_reward_factor": 1}},
			"strict":   {"multipliers": {"leverage_factor": 0.5, "confidence_factor": 1.2, "risk_reward_factor": 1.25}}
		}
	}`)

	return NewConfigStore(tfPath, stratPath, levelsPath)
}

func TestConfigStore_EffectiveEntryConditions(t *testing.T) {
	cs := newTestConfigStore(t)

	cond, err := cs.EffectiveEntryConditions("1h", "conservative", "standard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cond.MinLeverage != 2 {
		t.Errorf("expected min_leverage 2, got %f", cond.MinLeverage)
	}
	if cond.MaxLeverage != 5 {
		t.Errorf("expected max_leverage (leverage_cap) 5, got %f", cond.MaxLeverage)
	}
	// min_risk_reward = 1.5 * risk_multiplier(0.8) = 1.2
	if diff := cond.MinRiskReward - 1.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected min_risk_reward 1.2, got %f", cond.MinRiskReward)
	}
}

func TestConfigStore_UnknownStrictnessFallsBackToNeutral(t *testing.T) {
	cs := newTestConfigStore(t)

	standard, err := cs.EffectiveEntryConditions("1h", "conservative", "standard")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unknown, err := cs.EffectiveEntryConditions("1h", "conservative", "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error for unknown strictness: %v", err)
	}
	if standard != unknown {
		t.Errorf("expected unknown strictness level to fall back to neutral multipliers, got %+v vs %+v", standard, unknown)
	}
}

func TestConfigStore_UnknownTimeframeErrors(t *testing.T) {
	cs := newTestConfigStore(t)
	_, err := cs.EffectiveEntryConditions("99x", "conservative", "standard")
	if err == nil {
		t.Fatal("expected an error for unknown timeframe")
	}
	var tfErr *UnknownTimeframeError
	if !errors.As(err, &tfErr) {
		t.Fatalf("expected *UnknownTimeframeError, got %T", err)
	}
	if tfErr.Name != "99x" {
		t.Errorf("expected Name to report the offending timeframe, got %q", tfErr.Name)
	}
}

func TestConfigStore_UnknownStrategyErrors(t *testing.T) {
	cs := newTestConfigStore(t)
	_, err := cs.EffectiveEntryConditions("1h", "does-not-exist", "standard")
	if err == nil {
		t.Fatal("expected an error for unknown strategy")
	}
	var stratErr *UnknownStrategyError
	if !errors.As(err, &stratErr) {
		t.Fatalf("expected *UnknownStrategyError, got %T", err)
	}
}
