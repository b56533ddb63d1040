package backtestengine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// UnknownStrategyError is returned when a strategy identifier has no
// matching config. It always carries the full list of known names so
// callers never have to re-query for context.
type UnknownStrategyError struct {
	Name  string
	Known []string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown strategy %q, known strategies: %v", e.Name, e.Known)
}

// UnknownTimeframeError is the timeframe analogue of UnknownStrategyError.
type UnknownTimeframeError struct {
	Name  string
	Known []string
}

func (e *UnknownTimeframeError) Error() string {
	return fmt.Sprintf("unknown timeframe %q, known timeframes: %v", e.Name, e.Known)
}

// timeframeDoc / strategyDoc / strictnessDoc mirror the three JSON
// documents: timeframe_conditions.json,
// trading_conditions.json, condition_strictness_levels.json.
type timeframeDoc struct {
	Timeframes map[string]struct {
		DataDays                  int     `json:"data_days"`
		EvaluationIntervalMinutes int     `json:"evaluation_interval_minutes"`
		MaxEvaluations            int     `json:"max_evaluations"`
		IntervalMinutes           int     `json:"interval_minutes"`
		MinLeverage               float64 `json:"min_leverage"`
		MinConfidence             float64 `json:"min_confidence"`
		MinRiskReward             float64 `json:"min_risk_reward"`
	} `json:"timeframes"`
}

type strategyDoc struct {
	Strategies map[string]struct {
		SLTPCalculatorKind string  `json:"sltp_calculator_kind"`
		RiskMultiplier     float64 `json:"risk_multiplier"`
		ConfidenceBoost    float64 `json:"confidence_boost"`
		LeverageCap        float64 `json:"leverage_cap"`
	} `json:"strategies"`
}

type strictnessDoc struct {
	Levels map[string]struct {
		Multipliers struct {
			LeverageFactor   float64 `json:"leverage_factor"`
			ConfidenceFactor float64 `json:"confidence_factor"`
			RiskRewardFactor float64 `json:"risk_reward_factor"`
		} `json:"multipliers"`
	} `json:"levels"`
}

// ConfigStore is the single process-wide instance resolving effective
// entry conditions. It is lazily initialized once and is lock-free for
// readers thereafter, mirroring internal/logging.Default()'s sync.Once
// singleton pattern.
type ConfigStore struct {
	once sync.Once

	timeframePath  string
	strategyPath   string
	strictnessPath string

	timeframes map[string]Timeframe
	strategies map[string]StrategyConfig
	levels     map[string]StrictnessMultipliers

	loadErr error
}

// NewConfigStore constructs a store that lazily loads the three JSON
// documents from the given paths on first use.
func NewConfigStore(timeframePath, strategyPath, strictnessPath string) *ConfigStore {
	return &ConfigStore{
		timeframePath:  timeframePath,
		strategyPath:   strategyPath,
		strictnessPath: strictnessPath,
	}
}

func (cs *ConfigStore) ensureLoaded() error {
	cs.once.Do(func() {
		cs.loadErr = cs.load()
	})
	return cs.loadErr
}

func (cs *ConfigStore) load() error {
	var tf timeframeDoc
	if err := readJSON(cs.timeframePath, &tf); err != nil {
		return fmt.Errorf("loading timeframe conditions: %w", err)
	}
	var sd strategyDoc
	if err := readJSON(cs.strategyPath, &sd); err != nil {
		return fmt.Errorf("loading trading conditions: %w", err)
	}
	var st strictnessDoc
	if err := readJSON(cs.strictnessPath, &st); err != nil {
		return fmt.Errorf("loading strictness levels: %w", err)
	}

	cs.timeframes = make(map[string]Timeframe, len(tf.Timeframes))
	for tag, v := range tf.Timeframes {
		cs.timeframes[tag] = Timeframe{
			Tag:                       tag,
			IntervalMinutes:           v.IntervalMinutes,
			DataDays:                  v.DataDays,
			EvaluationIntervalMinutes: v.EvaluationIntervalMinutes,
			MaxEvaluations:            v.MaxEvaluations,
			BaseMinLeverage:           v.MinLeverage,
			BaseMinConfidence:         v.MinConfidence,
			BaseMinRiskReward:         v.MinRiskReward,
		}
	}

	cs.strategies = make(map[string]StrategyConfig, len(sd.Strategies))
	for name, v := range sd.Strategies {
		cs.strategies[name] = StrategyConfig{
			Name:               name,
			SLTPCalculatorKind: v.SLTPCalculatorKind,
			RiskMultiplier:     v.RiskMultiplier,
			ConfidenceBoost:    v.ConfidenceBoost,
			LeverageCap:        v.LeverageCap,
		}
	}

	cs.levels = make(map[string]StrictnessMultipliers, len(st.Levels))
	for name, v := range st.Levels {
		cs.levels[name] = StrictnessMultipliers{
			LeverageFactor:   v.Multipliers.LeverageFactor,
			ConfidenceFactor: v.Multipliers.ConfidenceFactor,
			RiskRewardFactor: v.Multipliers.RiskRewardFactor,
		}
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EffectiveEntryConditions resolves (min_leverage, min_confidence,
// min_risk_reward, max_leverage) for a (timeframe, strategy, level)
// triple, applying strictness multipliers then strategy adjustments, per
// the original's unified_config_manager.py.
func (cs *ConfigStore) EffectiveEntryConditions(timeframe, strategy, level string) (Conditions, error) {
	if err := cs.ensureLoaded(); err != nil {
		return Conditions{}, err
	}

	tf, ok := cs.timeframes[timeframe]
	if !ok {
		return Conditions{}, &UnknownTimeframeError{Name: timeframe, Known: sortedKeys(cs.timeframes)}
	}
	strat, ok := cs.strategies[strategy]
	if !ok {
		return Conditions{}, &UnknownStrategyError{Name: strategy, Known: sortedKeys(cs.strategies)}
	}
	mult, ok := cs.levels[level]
	if !ok {
		// Strictness is a lookup too, but only fail-loud behavior is required
		// behavior for strategy/timeframe; an unknown level falls back to
		// neutral multipliers (1.0), matching standard strictness.
		mult = StrictnessMultipliers{LeverageFactor: 1, ConfidenceFactor: 1, RiskRewardFactor: 1}
	}

	minLeverage := clampMin(tf.BaseMinLeverage*mult.LeverageFactor, 1.0)
	minConfidence := clamp(tf.BaseMinConfidence*mult.ConfidenceFactor, 0.1, 1.0)
	minRiskReward := clampMin(tf.BaseMinRiskReward*mult.RiskRewardFactor, 0.5)

	minConfidence = clamp(minConfidence+strat.ConfidenceBoost, 0.1, 1.0)
	minRiskReward *= strat.RiskMultiplier
	maxLeverage := strat.LeverageCap

	return Conditions{
		MinLeverage:   minLeverage,
		MinConfidence: minConfidence,
		MinRiskReward: minRiskReward,
		MaxLeverage:   maxLeverage,
	}, nil
}

// Timeframe returns the loaded config for a timeframe tag.
func (cs *ConfigStore) Timeframe(tag string) (Timeframe, error) {
	if err := cs.ensureLoaded(); err != nil {
		return Timeframe{}, err
	}
	tf, ok := cs.timeframes[tag]
	if !ok {
		return Timeframe{}, &UnknownTimeframeError{Name: tag, Known: sortedKeys(cs.timeframes)}
	}
	return tf, nil
}

// Strategy returns the loaded config for a strategy name.
func (cs *ConfigStore) Strategy(name string) (StrategyConfig, error) {
	if err := cs.ensureLoaded(); err != nil {
		return StrategyConfig{}, err
	}
	strat, ok := cs.strategies[name]
	if !ok {
		return StrategyConfig{}, &UnknownStrategyError{Name: name, Known: sortedKeys(cs.strategies)}
	}
	return strat, nil
}

func clampMin(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
