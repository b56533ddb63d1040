package backtestengine

import (
	"fmt"

	"leveraged-backtest-engine/internal/logging"
)

// Decision is the candidate trade parameters checked against effective
// entry conditions.
type Decision struct {
	Leverage       *float64
	ConfidencePct  *float64
	RiskReward     *float64
	CurrentPrice   *float64
}

// MissingFieldsError reports that one or more required decision fields
// were nil. The evaluator never treats a missing field as a silent false.
type MissingFieldsError struct {
	MissingFields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required decision fields: %v", e.MissingFields)
}

// Evaluate is a pure function: leverage >= min_leverage AND
// confidence_pct/100 >= min_confidence AND risk_reward >= min_risk_reward
// AND current_price > 0. It is side-effect free; log is an optional
// logger used only to record the failing predicate for observability.
func Evaluate(d Decision, c Conditions, log *logging.Logger) (bool, error) {
	var missing []string
	if d.Leverage == nil {
		missing = append(missing, "leverage")
	}
	if d.ConfidencePct == nil {
		missing = append(missing, "confidence_pct")
	}
	if d.RiskReward == nil {
		missing = append(missing, "risk_reward")
	}
	if d.CurrentPrice == nil {
		missing = append(missing, "current_price")
	}
	if len(missing) > 0 {
		return false, &MissingFieldsError{MissingFields: missing}
	}

	leverageOK := *d.Leverage >= c.MinLeverage
	confidenceOK := *d.ConfidencePct/100 >= c.MinConfidence
	rrOK := *d.RiskReward >= c.MinRiskReward
	priceOK := *d.CurrentPrice > 0

	if log != nil {
		if !leverageOK {
			log.Debug("entry rejected: leverage below threshold", "leverage", *d.Leverage, "min_leverage", c.MinLeverage)
		} else if !confidenceOK {
			log.Debug("entry rejected: confidence below threshold", "confidence_pct", *d.ConfidencePct, "min_confidence", c.MinConfidence)
		} else if !rrOK {
			log.Debug("entry rejected: risk_reward below threshold", "risk_reward", *d.RiskReward, "min_risk_reward", c.MinRiskReward)
		} else if !priceOK {
			log.Debug("entry rejected: non-positive current_price", "current_price", *d.CurrentPrice)
		}
	}

	return leverageOK && confidenceOK && rrOK && priceOK, nil
}
