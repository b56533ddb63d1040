package main

import (
	"time"

	"leveraged-backtest-engine/internal/backtestengine"
)

// The support/resistance detector, the ML prediction models and the
// BTC-correlation estimator are external collaborators: this module pins
// their contracts but never ships a production implementation. The
// no-op providers below satisfy those contracts for a standalone binary
// build; a real deployment wires production implementations of
// backtestengine.SupportResistanceProvider, backtestengine.MLPredictionProvider,
// backtestengine.BTCCorrelationProvider and backtestengine.MarketContextAnalyzer
// in their place.

type noOpSupportResistance struct{}

func (noOpSupportResistance) DetectLevels(window backtestengine.OHLCVSeries, currentPrice float64) (supports, resistances []backtestengine.SupportResistanceLevel, insufficientData bool) {
	return nil, nil, true
}

type noOpMLPrediction struct{}

func (noOpMLPrediction) Predict(window backtestengine.OHLCVSeries) (prediction backtestengine.MLPrediction, insufficientData bool) {
	return backtestengine.MLPrediction{}, true
}

type noOpBTCCorrelation struct{}

func (noOpBTCCorrelation) Correlation(window backtestengine.OHLCVSeries) (correlation backtestengine.BTCCorrelation, insufficientData bool) {
	return backtestengine.BTCCorrelation{}, true
}

// closeAtTargetMarketContext is the simplest honest MarketContextAnalyzer:
// it reads the current price directly off the truncated window (the open
// of the candle containing targetTimestamp when not realtime, the close
// of the latest candle when realtime), matching the contract in leverage.go
// without consulting any external service.
type closeAtTargetMarketContext struct{}

func (closeAtTargetMarketContext) Analyze(ohlcv backtestengine.OHLCVSeries, targetTimestamp time.Time, isRealtime bool) (context backtestengine.MarketContext, insufficientData bool) {
	if len(ohlcv.Candles) == 0 {
		return backtestengine.MarketContext{}, true
	}
	if isRealtime {
		latest := ohlcv.Candles[len(ohlcv.Candles)-1]
		return backtestengine.MarketContext{CurrentPrice: latest.Close, Trend: "unknown", Phase: "unknown"}, false
	}
	candle, ok := ohlcv.CandleAt(targetTimestamp, time.Minute, 2*time.Hour)
	if !ok {
		return backtestengine.MarketContext{}, true
	}
	return backtestengine.MarketContext{CurrentPrice: candle.Open, Trend: "unknown", Phase: "unknown"}, false
}

// noOpOHLCVFetcher is the external market-data capability's no-op stand-in.
// A real deployment wires an exchange client or historical-data warehouse
// implementing backtestengine.OHLCVFetcher.
type noOpOHLCVFetcher struct{}

func (noOpOHLCVFetcher) Fetch(symbol, timeframe string, start, end time.Time) (backtestengine.OHLCVSeries, error) {
	return backtestengine.OHLCVSeries{Symbol: symbol, Timeframe: timeframe}, nil
}
