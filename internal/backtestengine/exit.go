package backtestengine

import "time"

// ExitResult is the outcome of scanning forward candles for a TP/SL touch.
type ExitResult struct {
	ExitTime  time.Time
	ExitPrice float64
	Outcome   Outcome
}

// ResolveExit scans candles strictly after entryTime, in chronological
// order, up to the timeframe's fallback horizon, for a TP or SL touch.
//
// Tie-break: if a candle's low touches SL and its high touches TP in the
// same candle, the candle is treated as a loss — the candle provides no
// intra-candle ordering, so the conservative outcome wins.
// This intentionally diverges from both the Python original and this
// module's teacher code, which both check TP before SL.
func ResolveExit(series OHLCVSeries, entryTime time.Time, entryPrice, tp, sl float64, timeframe string) ExitResult {
	horizonMinutes := FallbackExitMinutes(timeframe)
	horizon := entryTime.Add(time.Duration(horizonMinutes) * time.Minute)

	for _, c := range series.Candles {
		if !c.Timestamp.After(entryTime) {
			continue
		}
		if c.Timestamp.After(horizon) {
			break
		}
		if c.Low <= sl {
			return ExitResult{ExitTime: c.Timestamp, ExitPrice: sl, Outcome: OutcomeLoss}
		}
		if c.High >= tp {
			return ExitResult{ExitTime: c.Timestamp, ExitPrice: tp, Outcome: OutcomeProfit}
		}
	}

	return ExitResult{ExitTime: horizon, ExitPrice: entryPrice, Outcome: OutcomeBreakeven}
}
