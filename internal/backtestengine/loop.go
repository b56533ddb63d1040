package backtestengine

import (
	"math"
	"time"

	"leveraged-backtest-engine/internal/logging"
)

// OHLCVFetcher is the external market-data capability this package
// depends on without implementing — only its contract is pinned here.
type OHLCVFetcher interface {
	Fetch(symbol, timeframe string, start, end time.Time) (OHLCVSeries, error)
}

// CustomPeriod lets a caller override the timeframe's default data_days
// window with an explicit date range.
type CustomPeriod struct {
	Start time.Time
	End   time.Time
}

// RunParams are the inputs to one backtest analysis.
type RunParams struct {
	Symbol       string
	Timeframe    string
	Strategy     string
	Level        string
	ExecutionID  string
	Now          time.Time // analysis invocation instant; read once, never inside the loop
	CustomPeriod *CustomPeriod
}

// Loop drives the per-(symbol,timeframe,strategy) candle walk (C9). It
// owns no cross-analysis state: a fresh OHLCVSeries is fetched per Run
// call and discarded at the end: sharing an OHLCV cache across analyses
// previously produced non-deterministic results.
type Loop struct {
	Config    *ConfigStore
	Validator *Validator
	Progress  *ProgressTracker
	Fetcher   OHLCVFetcher
	Engine    *Engine
	Log       *logging.Logger
}

// Timeframe forwards to the loop's ConfigStore, letting callers resolve a
// timeframe tag without reaching into Loop.Config directly.
func (l *Loop) Timeframe(tag string) (Timeframe, error) {
	return l.Config.Timeframe(tag)
}

// Strategy forwards to the loop's ConfigStore, letting callers resolve a
// strategy name without reaching into Loop.Config directly.
func (l *Loop) Strategy(name string) (StrategyConfig, error) {
	return l.Config.Strategy(name)
}

// lookbackDays approximates the original's ceil(200 * interval_minutes / 1440),
// providing 200 prior candles of history for support/resistance detection.
func lookbackDays(intervalMinutes int) int {
	return int(math.Ceil(float64(200*intervalMinutes) / 1440))
}

// alignEvaluationStart snaps startTime to the first aligned timestamp at
// or after startTime, avoiding timestamps where no candle exists. Intervals
// of an hour or more align to the hour; shorter intervals align to the
// nearest evaluation_interval_minutes boundary.
func alignEvaluationStart(startTime time.Time, evaluationIntervalMinutes int) time.Time {
	if evaluationIntervalMinutes <= 0 {
		return startTime
	}
	interval := time.Duration(evaluationIntervalMinutes) * time.Minute
	if interval >= time.Hour {
		truncated := startTime.Truncate(time.Hour)
		for truncated.Before(startTime) {
			truncated = truncated.Add(time.Hour)
		}
		return truncated
	}
	truncated := startTime.Truncate(interval)
	if truncated.Before(startTime) {
		truncated = truncated.Add(interval)
	}
	return truncated
}

// evaluationBudget implements max_evaluations = min(max(config_floor,
// floor(total_minutes / interval * 0.8)), 5000).
func evaluationBudget(totalMinutes float64, intervalMinutes, configFloor int) int {
	computed := int(math.Floor(totalMinutes / float64(intervalMinutes) * 0.8))
	if computed < configFloor {
		computed = configFloor
	}
	if computed > 5000 {
		computed = 5000
	}
	return computed
}

// gapTolerances is the escalating flexible-matching tolerance table named
// (1m, 5m, 15m, 30m, 2h), applied in order until one
// yields a candle match.
var gapTolerances = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// Run executes the per-candle backtest for one (symbol, timeframe,
// strategy, execution_id), returning a Completed or EarlyExit result.
func (l *Loop) Run(p RunParams, tf Timeframe, strategy StrategyConfig) AnalysisResult {
	conditions, err := l.Config.EffectiveEntryConditions(p.Timeframe, p.Strategy, p.Level)
	if err != nil {
		return earlyExitResult(StageEntryConditions, ReasonInsufficientData, err.Error(), err.Error())
	}

	startTime := p.Now.AddDate(0, 0, -tf.DataDays)
	endTime := p.Now
	if p.CustomPeriod != nil {
		startTime, endTime = p.CustomPeriod.Start, p.CustomPeriod.End
	}

	lookback := lookbackDays(tf.IntervalMinutes)
	fetchStart := startTime.AddDate(0, 0, -lookback)

	series, err := l.Fetcher.Fetch(p.Symbol, p.Timeframe, fetchStart, endTime)
	if err != nil || len(series.Candles) == 0 {
		return earlyExitResult(StageDataFetch, ReasonInsufficientData, "no OHLCV data available", safeErrString(err))
	}

	evalStart := alignEvaluationStart(startTime, tf.EvaluationIntervalMinutes)
	totalMinutes := endTime.Sub(evalStart).Minutes()
	budget := evaluationBudget(totalMinutes, tf.IntervalMinutes, tf.MaxEvaluations)

	interval := time.Duration(tf.IntervalMinutes) * time.Minute

	var trades []Trade
	evaluations := 0

	for t := evalStart; !t.After(endTime) && evaluations < budget; t = t.Add(interval) {
		evaluations++

		// Ownership: the loop only ever sees the window up to t via
		// truncation below, never a raw reference to series's tail.
		window := truncateSeries(series, t)

		candle, matched := matchWithTolerance(window, t, interval)
		if !matched {
			continue // candle gap exceeding tolerance: skip iteration, not a hard failure
		}

		decision, exit := l.Engine.Decide(window, t, conditions, strategy.LeverageCap)
		if exit != nil {
			l.recordEarlyExit(p.ExecutionID, *exit)
			return AnalysisResult{
				Kind:            ResultEarlyExit,
				Stage:           exit.Stage,
				Reason:          exit.Reason,
				UserMessage:     exit.UserMessage,
				DetailedMessage: exit.DetailedMessage,
				Suggestions:     exit.Suggestions,
			}
		}

		leveragePtr, confPtr, rrPtr, pricePtr := decision.Leverage, decision.Confidence, decision.RR, candle.Open
		accepted, evalErr := Evaluate(Decision{
			Leverage:      &leveragePtr,
			ConfidencePct: &confPtr,
			RiskReward:    &rrPtr,
			CurrentPrice:  &pricePtr,
		}, conditions, l.Log)
		if evalErr != nil || !accepted {
			continue
		}

		entryPrice := candle.Open // re-fetched real market open at t; source-of-truth entry price
		sl, tp := decision.SL, decision.TP
		if !(sl < entryPrice && entryPrice < tp) {
			if l.Log != nil {
				l.Log.Error("entry skipped: long-position ordering violated", "symbol", p.Symbol, "sl", sl, "entry_price", entryPrice, "tp", tp)
			}
			continue // long-position ordering violated: skip, log, continue
		}

		consistency := l.Validator.Validate(decision.CurrentPrice, entryPrice)
		if consistency.Level == LevelCritical {
			continue
		}

		exitResult := ResolveExit(series, t, entryPrice, tp, sl, p.Timeframe)

		validation := ValidateBacktest(entryPrice, sl, tp, exitResult.ExitPrice, exitResult.ExitTime.Sub(t).Minutes())
		if validation.Severity == LevelCritical {
			return earlyExitResult(StageLeverageDecision, ReasonUnsafeLeverage, "backtest validation found a critical issue", joinIssues(validation.Issues))
		}

		trades = append(trades, Trade{
			EntryTime:                  t,
			ExitTime:                   exitResult.ExitTime,
			EntryPrice:                 entryPrice,
			ExitPrice:                  exitResult.ExitPrice,
			TakeProfitPrice:            tp,
			StopLossPrice:              sl,
			Leverage:                   decision.Leverage,
			PnLPercent:                 (exitResult.ExitPrice - entryPrice) / entryPrice * decision.Leverage,
			ConfidencePct:              decision.Confidence,
			Outcome:                    exitResult.Outcome,
			Strategy:                   p.Strategy,
			ConsistencyScore:           consistencyScore(consistency.Level),
			AnalysisPrice:              decision.CurrentPrice,
			PriceValidationLevel:       consistency.Level,
			BacktestValidationSeverity: validation.Severity,
		})
	}

	return AnalysisResult{
		Kind:    ResultCompleted,
		Trades:  trades,
		Metrics: ComputeMetrics(trades),
	}
}

func (l *Loop) recordEarlyExit(executionID string, exit EarlyExit) {
	if l.Progress == nil {
		return
	}
	l.Progress.UpdateStage(executionID, string(exit.Stage))
	l.Progress.Fail(executionID, string(exit.Stage), exit.UserMessage)
}

func earlyExitResult(stage Stage, reason Reason, userMsg, detailedMsg string) AnalysisResult {
	return AnalysisResult{
		Kind:            ResultEarlyExit,
		Stage:           stage,
		Reason:          reason,
		UserMessage:     userMsg,
		DetailedMessage: detailedMsg,
	}
}

func safeErrString(err error) string {
	if err == nil {
		return "empty OHLCV series"
	}
	return err.Error()
}

func joinIssues(issues []string) string {
	out := ""
	for i, s := range issues {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}

func consistencyScore(level PriceValidationLevel) float64 {
	switch level {
	case LevelNormal:
		return 1.0
	case LevelWarning:
		return 0.8
	case LevelError:
		return 0.5
	default:
		return 0.0
	}
}

// truncateSeries returns the prefix of series containing only candles
// with timestamp <= t, enforcing the no-look-ahead invariant at the type
// level for every downstream capability call.
func truncateSeries(series OHLCVSeries, t time.Time) OHLCVSeries {
	idx := len(series.Candles)
	for i, c := range series.Candles {
		if c.Timestamp.After(t) {
			idx = i
			break
		}
	}
	return OHLCVSeries{Symbol: series.Symbol, Timeframe: series.Timeframe, Candles: series.Candles[:idx]}
}

// matchWithTolerance finds the candle whose interval contains t, escalating
// through gapTolerances for gapped data.
func matchWithTolerance(window OHLCVSeries, t time.Time, interval time.Duration) (Candle, bool) {
	for _, tol := range gapTolerances {
		if c, ok := window.CandleAt(t, interval, tol); ok {
			return c, true
		}
	}
	return Candle{}, false
}

// ComputeMetrics aggregates the trade list: win_rate
// excludes breakevens from its denominator; breakevens count toward trade
// density but not directional performance.
func ComputeMetrics(trades []Trade) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var wins, decisive int
	var pnlSum, leverageSum, consistencySum float64
	var pnls []float64
	var cumulative, peak, maxDrawdown float64

	for _, t := range trades {
		pnlSum += t.PnLPercent
		leverageSum += t.Leverage
		consistencySum += t.ConsistencyScore
		pnls = append(pnls, t.PnLPercent)

		if t.Outcome != OutcomeBreakeven {
			decisive++
			if t.Outcome == OutcomeProfit {
				wins++
			}
		} else {
			m.BreakevenTrades++
		}

		cumulative += t.PnLPercent
		if cumulative > peak {
			peak = cumulative
		}
		drawdown := peak - cumulative
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}

		if t.PriceValidationLevel == LevelCritical {
			m.CriticalPriceIssues++
		}
		if t.BacktestValidationSeverity == LevelCritical {
			m.CriticalBacktestIssues++
		}
	}

	m.DecisiveTrades = decisive
	if decisive > 0 {
		m.WinRate = float64(wins) / float64(decisive)
	}
	m.BreakevenRate = float64(m.BreakevenTrades) / float64(len(trades))
	m.TotalReturn = pnlSum
	m.AvgLeverage = leverageSum / float64(len(trades))
	m.AvgPriceConsistency = consistencySum / float64(len(trades))
	m.MaxDrawdown = maxDrawdown
	m.SharpeRatio = sharpeRatio(pnls)
	return m
}

func sharpeRatio(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	var mean float64
	for _, v := range pnls {
		mean += v
	}
	mean /= float64(len(pnls))

	var variance float64
	for _, v := range pnls {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(pnls))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
