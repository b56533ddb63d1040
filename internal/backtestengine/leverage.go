package backtestengine

import (
	"strconv"
	"time"
)

// SupportResistanceLevel is one detected level.
type SupportResistanceLevel struct {
	Price               float64
	Strength            float64 // in [0,1]
	TouchCount          int
	MLBounceProbability *float64
}

// SupportResistanceProvider detects support/resistance levels. Pure with
// respect to (ohlcv, currentPrice); idempotent. Returning empty slices is
// valid and triggers an early exit.
type SupportResistanceProvider interface {
	DetectLevels(window OHLCVSeries, currentPrice float64) (supports, resistances []SupportResistanceLevel, insufficientData bool)
}

// MLPrediction is the ML capability's output, all values in [0,1].
type MLPrediction struct {
	BreakoutProb float64
	BounceProb   float64
	Confidence   float64
}

// MLPredictionProvider predicts breakout/bounce probabilities from a window.
type MLPredictionProvider interface {
	Predict(window OHLCVSeries) (prediction MLPrediction, insufficientData bool)
}

// BTCCorrelation is the correlation capability's output.
type BTCCorrelation struct {
	Strength         float64
	ExpectedDownside float64
}

// BTCCorrelationProvider estimates correlation-driven downside risk.
type BTCCorrelationProvider interface {
	Correlation(window OHLCVSeries) (correlation BTCCorrelation, insufficientData bool)
}

// MarketContext is the market-context analyzer's output. When
// realtime is false, CurrentPrice MUST be the open of the candle
// containing target_timestamp; when true, it is the close of the latest
// candle. No other mode is permitted.
type MarketContext struct {
	CurrentPrice float64
	Trend        string
	Volatility   float64
	Phase        string
}

// MarketContextAnalyzer is the single authority for "current price" during
// backtesting; it never consults candles with timestamp > targetTimestamp.
type MarketContextAnalyzer interface {
	Analyze(ohlcv OHLCVSeries, targetTimestamp time.Time, isRealtime bool) (context MarketContext, insufficientData bool)
}

// LeverageDecision is the accepted outcome of the decision procedure.
type LeverageDecision struct {
	Leverage     float64
	Confidence   float64
	CurrentPrice float64
	TP           float64
	SL           float64
	RR           float64
	Reasoning    []string
}

// EarlyExit is the structured non-exceptional termination carried by
// AnalysisResult.
type EarlyExit struct {
	Stage           Stage
	Reason          Reason
	UserMessage     string
	DetailedMessage string
	Suggestions     []string
}

// SLTPCalculator computes stop-loss and take-profit from detected levels.
// Strategy -> (sltp_calculator_kind, parameters) is a tagged-variant
// lookup, not a class hierarchy.
type SLTPCalculator func(entryPrice float64, supports, resistances []SupportResistanceLevel) (sl, tp float64, ok bool)

// ConservativeSLTPCalculator sets SL at the nearest support minus a safety
// margin and TP at the nearest resistance minus a buffer, matching the
// "conservative" sltp_calculator_kind.
func ConservativeSLTPCalculator(safetyMargin, buffer float64) SLTPCalculator {
	return func(entryPrice float64, supports, resistances []SupportResistanceLevel) (float64, float64, bool) {
		support, ok := nearestBelow(entryPrice, supports)
		if !ok {
			return 0, 0, false
		}
		resistance, ok := nearestAbove(entryPrice, resistances)
		if !ok {
			return 0, 0, false
		}
		sl := support.Price * (1 - safetyMargin)
		tp := resistance.Price * (1 - buffer)
		return sl, tp, true
	}
}

func nearestBelow(price float64, levels []SupportResistanceLevel) (SupportResistanceLevel, bool) {
	var best SupportResistanceLevel
	found := false
	for _, l := range levels {
		if l.Price >= price {
			continue
		}
		if !found || l.Price > best.Price {
			best, found = l, true
		}
	}
	return best, found
}

func nearestAbove(price float64, levels []SupportResistanceLevel) (SupportResistanceLevel, bool) {
	var best SupportResistanceLevel
	found := false
	for _, l := range levels {
		if l.Price <= price {
			continue
		}
		if !found || l.Price < best.Price {
			best, found = l, true
		}
	}
	return best, found
}

// LeverageEngineConfig holds the global/strategy-independent constraints
// used by the decision procedure.
type LeverageEngineConfig struct {
	MaxDrawdownTolerance float64 // as pct, used as support-distance constraint numerator
	GlobalMaxLeverage    float64
	MinSafeLeverage      float64
	VolatilityWinRate    float64 // half-Kelly-style win rate assumption
	VolatilityAvgWin     float64
	VolatilityAvgLoss    float64
}

// Engine consumes the injected capabilities and runs the decision
// procedure below. It never consults a candle with timestamp greater
// than the target timestamp.
type Engine struct {
	SupportResistance SupportResistanceProvider
	ML                MLPredictionProvider
	BTC               BTCCorrelationProvider
	MarketCtx         MarketContextAnalyzer
	SLTP              SLTPCalculator
	Config            LeverageEngineConfig
}

// Decide runs the seven-step decision procedure. window must already be
// truncated so it contains no candle with timestamp > targetTimestamp.
func (e *Engine) Decide(window OHLCVSeries, targetTimestamp time.Time, conditions Conditions, strategyLeverageCap float64) (*LeverageDecision, *EarlyExit) {
	mctx, insufficient := e.MarketCtx.Analyze(window, targetTimestamp, false)
	if insufficient {
		return nil, earlyExit(StageMarketContext, ReasonInsufficientData, "market context unavailable", "market-context analyzer reported insufficient data for this window")
	}
	currentPrice := mctx.CurrentPrice

	supports, resistances, insufficient := e.SupportResistance.DetectLevels(window, currentPrice)
	if insufficient {
		return nil, earlyExit(StageSupportResistance, ReasonInsufficientData, "support/resistance data unavailable", "support/resistance provider reported insufficient data")
	}

	ml, insufficient := e.ML.Predict(window)
	if insufficient {
		return nil, earlyExit(StageMLPrediction, ReasonInsufficientData, "ML prediction unavailable", "ML prediction provider reported insufficient data")
	}

	btc, insufficient := e.BTC.Correlation(window)
	if insufficient {
		return nil, earlyExit(StageMLPrediction, ReasonInsufficientData, "BTC correlation unavailable", "BTC correlation provider reported insufficient data")
	}

	support, ok := nearestBelow(currentPrice, supports)
	if !ok {
		return nil, earlyExit(StageSupportResistance, ReasonNoSupportResistance, "no support level found below current price", "no candidate support level exists below the current price")
	}
	supportDistancePct := (currentPrice - support.Price) / currentPrice * 100
	if supportDistancePct <= 0 {
		return nil, earlyExit(StageSupportResistance, ReasonNoSupportResistance, "support level is not below current price", "support distance computed as non-positive")
	}

	candidateLeverages := []float64{
		e.Config.MaxDrawdownTolerance / supportDistancePct,
		rrConstraint(ml),
		confidenceScaledCap(ml.Confidence, e.Config.GlobalMaxLeverage),
		btcCorrelationConstraint(btc, e.Config.GlobalMaxLeverage),
		volatilityConstraint(e.Config.VolatilityWinRate, e.Config.VolatilityAvgWin, e.Config.VolatilityAvgLoss, e.Config.GlobalMaxLeverage),
		strategyLeverageCap,
		e.Config.GlobalMaxLeverage,
	}
	candidate := candidateLeverages[0]
	for _, l := range candidateLeverages[1:] {
		if l < candidate {
			candidate = l
		}
	}

	if candidate < e.Config.MinSafeLeverage {
		return nil, earlyExit(StageLeverageDecision, ReasonUnsafeLeverage, "leverage below minimum safe threshold", "candidate leverage computed below the configured minimum safe level")
	}

	sl, tp, ok := e.SLTP(currentPrice, supports, resistances)
	if !ok {
		return nil, earlyExit(StageLeverageDecision, ReasonUnsafeLeverage, "unable to compute stop-loss/take-profit", "SL/TP calculator could not find usable levels")
	}

	if !(sl < currentPrice && currentPrice < tp) {
		return nil, earlyExit(StageLeverageDecision, ReasonUnsafeLeverage, "computed SL/TP violate long-position ordering", "sl < entry < tp invariant violated")
	}

	rr := (tp - currentPrice) / (currentPrice - sl)
	if rr < conditions.MinRiskReward {
		return nil, earlyExit(StageEntryConditions, ReasonLowRR, "risk/reward below minimum", "computed risk/reward ratio is below the effective minimum")
	}

	confidence := ml.Confidence * 100

	return &LeverageDecision{
		Leverage:     candidate,
		Confidence:   confidence,
		CurrentPrice: currentPrice,
		TP:           tp,
		SL:           sl,
		RR:           rr,
		Reasoning: []string{
			"support_distance_pct=" + formatFloat(supportDistancePct),
			"candidate_from=" + formatFloat(candidate),
		},
	}, nil
}

func rrConstraint(ml MLPrediction) float64 {
	// Higher breakout confidence permits a higher candidate leverage; the
	// constraint degrades toward 1x as breakout probability approaches 0.
	return 1 + ml.BreakoutProb*9
}

func confidenceScaledCap(confidence, globalMax float64) float64 {
	return 1 + confidence*(globalMax-1)
}

func btcCorrelationConstraint(btc BTCCorrelation, globalMax float64) float64 {
	// Strong correlation with expected downside tightens the cap.
	downsideFactor := 1 - btc.Strength*btc.ExpectedDownside
	if downsideFactor < 0.1 {
		downsideFactor = 0.1
	}
	return globalMax * downsideFactor
}

// volatilityConstraint expresses a half-Kelly-capped-at-25% sizing
// constraint as a leverage multiplier, grounded on
// internal/risk.RiskManager.calculateKellySize, generalized from a
// position-size fraction into a leverage bound.
func volatilityConstraint(winRate, avgWin, avgLoss, globalMax float64) float64 {
	if avgLoss == 0 {
		return globalMax
	}
	b := avgWin / avgLoss
	p := winRate
	q := 1 - p
	kelly := (b*p - q) / b
	if kelly < 0 {
		kelly = 0
	}
	halfKelly := kelly / 2
	if halfKelly > 0.25 {
		halfKelly = 0.25
	}
	return 1 + halfKelly*(globalMax-1)
}

func earlyExit(stage Stage, reason Reason, userMsg, detailedMsg string) *EarlyExit {
	return &EarlyExit{
		Stage:           stage,
		Reason:          reason,
		UserMessage:     userMsg,
		DetailedMessage: detailedMsg,
		Suggestions:     suggestionsFor(reason),
	}
}

func suggestionsFor(reason Reason) []string {
	switch reason {
	case ReasonInsufficientData:
		return []string{"widen the lookback window", "check the upstream data source for gaps"}
	case ReasonNoSupportResistance:
		return []string{"lower the strength threshold of the support/resistance detector"}
	case ReasonUnsafeLeverage:
		return []string{"relax the strictness level", "revisit the strategy's leverage_cap"}
	case ReasonLowRR:
		return []string{"use a less conservative SL/TP calculator", "relax min_risk_reward for this strictness level"}
	default:
		return nil
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
