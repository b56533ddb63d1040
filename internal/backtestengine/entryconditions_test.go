package backtestengine

import "testing"

func floatPtr(f float64) *float64 { return &f }

func TestEvaluate(t *testing.T) {
	conditions := Conditions{MinLeverage: 2, MinConfidence: 0.5, MinRiskReward: 1.5, MaxLeverage: 10}

	tests := []struct {
		name       string
		decision   Decision
		wantAccept bool
		wantErr    bool
	}{
		{
			name: "all thresholds met",
			decision: Decision{
				Leverage: floatPtr(3), ConfidencePct: floatPtr(60), RiskReward: floatPtr(2), CurrentPrice: floatPtr(100),
			},
			wantAccept: true,
		},
		{
			name: "leverage below minimum",
			decision: Decision{
				Leverage: floatPtr(1), ConfidencePct: floatPtr(60), RiskReward: floatPtr(2), CurrentPrice: floatPtr(100),
			},
			wantAccept: false,
		},
		{
			name: "confidence below minimum",
			decision: Decision{
				Leverage: floatPtr(3), ConfidencePct: floatPtr(40), RiskReward: floatPtr(2), CurrentPrice: floatPtr(100),
			},
			wantAccept: false,
		},
		{
			name: "risk_reward below minimum",
			decision: Decision{
				Leverage: floatPtr(3), ConfidencePct: floatPtr(60), RiskReward: floatPtr(1), CurrentPrice: floatPtr(100),
			},
			wantAccept: false,
		},
		{
			name: "non-positive current price",
			decision: Decision{
				Leverage: floatPtr(3), ConfidencePct: floatPtr(60), RiskReward: floatPtr(2), CurrentPrice: floatPtr(0),
			},
			wantAccept: false,
		},
		{
			name: "missing field returns error",
			decision: Decision{
				Leverage: floatPtr(3), ConfidencePct: floatPtr(60), RiskReward: floatPtr(2),
			},
			wantAccept: false,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accepted, err := Evaluate(tt.decision, conditions, nil)
			if tt.wantErr && err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if accepted != tt.wantAccept {
				t.Errorf("expected accepted=%v, got %v", tt.wantAccept, accepted)
			}
		})
	}
}

func TestEvaluate_MissingFieldsNamesAllMissing(t *testing.T) {
	_, err := Evaluate(Decision{}, Conditions{}, nil)
	missingErr, ok := err.(*MissingFieldsError)
	if !ok {
		t.Fatalf("expected *MissingFieldsError, got %T", err)
	}
	if len(missingErr.MissingFields) != 4 {
		t.Errorf("expected all 4 fields reported missing, got %v", missingErr.MissingFields)
	}
}
