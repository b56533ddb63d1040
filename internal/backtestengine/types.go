// Package backtestengine implements the per-analysis backtesting pipeline:
// config resolution, price consistency validation, progress tracking,
// entry evaluation, leverage decisioning, TP/SL resolution and the
// candle-walk loop that drives them.
package backtestengine

import "time"

// Candle is one OHLCV bar at a timeframe's interval.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid reports whether the candle satisfies the OHLCV ordering invariant.
func (c Candle) Valid() bool {
	return c.Low <= c.Open && c.Open <= c.High && c.Low <= c.Close && c.Close <= c.High && c.Open > 0
}

// OHLCVSeries is a timestamp-ascending, single-owner candle window. It is
// never shared across analyses: each backtest constructs and discards its
// own series; sharing one across concurrent analyses is a correctness bug.
type OHLCVSeries struct {
	Symbol    string
	Timeframe string
	Candles   []Candle
}

// CandleAt returns the candle whose half-open interval [t, t+interval)
// contains target, searching within tolerance. It never considers a
// candle whose timestamp is after target (no look-ahead).
func (s OHLCVSeries) CandleAt(target time.Time, interval time.Duration, tolerance time.Duration) (Candle, bool) {
	var best Candle
	found := false
	for _, c := range s.Candles {
		if c.Timestamp.After(target) {
			break
		}
		end := c.Timestamp.Add(interval)
		if !target.Before(c.Timestamp) && target.Before(end) {
			return c, true
		}
		if target.Sub(c.Timestamp) <= tolerance {
			best, found = c, true
		}
	}
	return best, found
}

// Outcome is the result of a trade's lifecycle.
type Outcome string

const (
	OutcomeProfit    Outcome = "profit"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// PriceValidationLevel classifies analysis-vs-entry price divergence.
type PriceValidationLevel string

const (
	LevelNormal   PriceValidationLevel = "normal"
	LevelWarning  PriceValidationLevel = "warning"
	LevelError    PriceValidationLevel = "error"
	LevelCritical PriceValidationLevel = "critical"
)

// Trade is one resolved long position.
type Trade struct {
	EntryTime           time.Time
	ExitTime            time.Time
	EntryPrice          float64
	ExitPrice           float64
	TakeProfitPrice     float64
	StopLossPrice       float64
	Leverage            float64
	PnLPercent          float64
	ConfidencePct       float64
	Outcome             Outcome
	Strategy            string
	ConsistencyScore    float64
	AnalysisPrice       float64
	PriceValidationLevel      PriceValidationLevel
	BacktestValidationSeverity PriceValidationLevel
}

// LongOrderingValid reports the invariant sl < entry < tp for a long position.
func (t Trade) LongOrderingValid() bool {
	return t.StopLossPrice < t.EntryPrice && t.EntryPrice < t.TakeProfitPrice
}

// Stage identifies where in the pipeline an early exit occurred.
type Stage string

const (
	StageDataFetch          Stage = "data_fetch"
	StageSupportResistance  Stage = "support_resistance"
	StageMLPrediction       Stage = "ml_prediction"
	StageMarketContext      Stage = "market_context"
	StageLeverageDecision   Stage = "leverage_decision"
	StageEntryConditions    Stage = "entry_conditions"
)

// Reason enumerates the early-exit causes.
type Reason string

const (
	ReasonInsufficientData    Reason = "insufficient_data"
	ReasonNoSupportResistance Reason = "no_support_resistance"
	ReasonLowConfidence       Reason = "low_confidence"
	ReasonUnsafeLeverage      Reason = "unsafe_leverage"
	ReasonLowRR               Reason = "low_risk_reward"
	ReasonCancelled           Reason = "cancelled"
)

// AnalysisResultKind discriminates AnalysisResult's two variants.
type AnalysisResultKind string

const (
	ResultCompleted AnalysisResultKind = "completed"
	ResultEarlyExit AnalysisResultKind = "early_exit"
)

// AnalysisResult is the structured, first-class result crossing the
// worker-to-orchestrator boundary. It is never an exception: early exits
// are an ordinary return value, not a panic or error.
type AnalysisResult struct {
	Kind Kind

	// Completed payload.
	Trades  []Trade
	Metrics Metrics

	// EarlyExit payload.
	Stage            Stage
	Reason           Reason
	UserMessage      string
	DetailedMessage  string
	Suggestions      []string
}

// Kind is an alias retained for readability at call sites; same type as
// AnalysisResultKind.
type Kind = AnalysisResultKind

// Metrics aggregates per-analysis trade statistics.
type Metrics struct {
	TotalTrades           int
	WinRate               float64
	TotalReturn           float64
	AvgLeverage           float64
	MaxDrawdown           float64
	SharpeRatio           float64
	BreakevenTrades       int
	DecisiveTrades        int
	BreakevenRate         float64
	AvgPriceConsistency   float64
	CriticalPriceIssues   int
	CriticalBacktestIssues int
}

// Timeframe describes a candle interval's evaluation parameters.
type Timeframe struct {
	Tag                       string
	IntervalMinutes           int
	DataDays                  int
	EvaluationIntervalMinutes int
	MaxEvaluations            int
	BaseMinLeverage           float64
	BaseMinConfidence         float64
	BaseMinRiskReward         float64
}

// StrategyConfig is a named parameter set applied after strictness
// adjustment.
type StrategyConfig struct {
	Name              string
	SLTPCalculatorKind string
	RiskMultiplier    float64
	ConfidenceBoost   float64
	LeverageCap       float64
}

// StrictnessMultipliers holds the multiplicative adjusters for one level.
type StrictnessMultipliers struct {
	LeverageFactor     float64
	ConfidenceFactor   float64
	RiskRewardFactor   float64
}

// Conditions is the fully resolved set of entry thresholds for a
// (timeframe, strategy, strictness level) triple.
type Conditions struct {
	MinLeverage    float64
	MinConfidence  float64
	MinRiskReward  float64
	MaxLeverage    float64
}

// fallbackExitMinutes maps a timeframe tag to the TP/SL resolver's bounded
// horizon fallback, carried forward unchanged from the original's
// _get_fallback_exit_minutes.
var fallbackExitMinutes = map[string]int{
	"1m":  15,
	"3m":  30,
	"5m":  45,
	"15m": 60,
	"30m": 90,
	"1h":  120,
}

// FallbackExitMinutes returns the bounded-horizon fallback for a timeframe,
// defaulting to 120 minutes for timeframes not in the table (4h, 1d).
func FallbackExitMinutes(timeframe string) int {
	if m, ok := fallbackExitMinutes[timeframe]; ok {
		return m
	}
	return 120
}
