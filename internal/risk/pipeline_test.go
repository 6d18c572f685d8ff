package risk

import (
	"strings"
	"testing"
	"time"

	"trading-bridge/internal/market"
	"trading-bridge/internal/state"
)

func validOpportunity() Opportunity {
	return Opportunity{
		Instrument:     "NQ",
		Direction:      market.Long,
		Confidence:     0.70,
		Strength:       0.3,
		EntryPrice:     21500,
		StopPrice:      21480,
		TargetPrice:    21540,
		ExpectedProfit: 100,
		MaxLoss:        50,
		WinProbability: 0.70,
		Sample: market.Sample{
			Instrument: "NQ",
			Price:      21500,
			ATR:        12.75,
			RSI:        55,
			Timestamp:  time.Now(),
		},
		Hour: 10,
	}
}

func testSnapshot() Snapshot {
	return Snapshot{ConfidenceThreshold: 0.65, Limits: DefaultLimits()}
}

func TestPipelineAcceptsValidOpportunity(t *testing.T) {
	p := NewPipeline(DefaultPipelineConfig())
	eval := p.Evaluate(validOpportunity(), state.Position{Instrument: "NQ"}, testSnapshot())

	if !eval.IsValid {
		t.Fatalf("expected valid, got reasons: %v", eval.Reasons)
	}
	if len(eval.Reasons) != 0 {
		t.Fatalf("valid evaluation carries reasons: %v", eval.Reasons)
	}
}

func TestConfidenceBoundaryIsInclusive(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantValid  bool
	}{
		{"above threshold", 0.66, true},
		{"exactly at threshold", 0.65, true},
		{"just below threshold", 0.649, false},
	}

	p := NewPipeline(DefaultPipelineConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opp := validOpportunity()
			opp.Confidence = tt.confidence
			eval := p.Evaluate(opp, state.Position{Instrument: "NQ"}, testSnapshot())
			if eval.IsValid != tt.wantValid {
				t.Fatalf("IsValid=%v, expected %v (reasons: %v)", eval.IsValid, tt.wantValid, eval.Reasons)
			}
		})
	}
}

func TestPipelineCollectsAllFailures(t *testing.T) {
	opp := validOpportunity()
	opp.Confidence = 0.40       // fails confidence
	opp.ExpectedProfit = 10     // fails expected profit
	opp.MaxLoss = 100           // risk/reward 0.1, fails
	opp.Hour = 22               // restricted hour

	p := NewPipeline(DefaultPipelineConfig())
	eval := p.Evaluate(opp, state.Position{Instrument: "NQ"}, testSnapshot())

	if eval.IsValid {
		t.Fatal("expected invalid")
	}
	if len(eval.Reasons) < 4 {
		t.Fatalf("expected every failing validator reported, got %v", eval.Reasons)
	}
}

func TestReversalRejected(t *testing.T) {
	opp := validOpportunity()
	opp.Direction = market.Short

	pos := state.Position{Instrument: "NQ", Direction: market.Long, Size: 2, AvgPrice: 21450}
	p := NewPipeline(DefaultPipelineConfig())
	eval := p.Evaluate(opp, pos, testSnapshot())

	if eval.IsValid {
		t.Fatal("a signal opposite an open position must be rejected")
	}
	found := false
	for _, r := range eval.Reasons {
		if strings.Contains(r, "no_reversal") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no_reversal missing from reasons: %v", eval.Reasons)
	}
}

func TestVolatilityCeiling(t *testing.T) {
	opp := validOpportunity()
	opp.Sample.ATR = opp.Sample.Price * 0.05 // 5% of price, above the 3% cap

	p := NewPipeline(DefaultPipelineConfig())
	eval := p.Evaluate(opp, state.Position{Instrument: "NQ"}, testSnapshot())

	if eval.IsValid {
		t.Fatal("excess volatility must be rejected")
	}
}

func TestRestrictedHours(t *testing.T) {
	p := NewPipeline(DefaultPipelineConfig())

	for _, hour := range []int{22, 23} {
		opp := validOpportunity()
		opp.Hour = hour
		if eval := p.Evaluate(opp, state.Position{Instrument: "NQ"}, testSnapshot()); eval.IsValid {
			t.Fatalf("hour %d must be restricted", hour)
		}
	}

	opp := validOpportunity()
	opp.Hour = 21
	if eval := p.Evaluate(opp, state.Position{Instrument: "NQ"}, testSnapshot()); !eval.IsValid {
		t.Fatalf("hour 21 unexpectedly rejected: %v", eval.Reasons)
	}
}

func TestEvaluationScoreIsMeanOfValidatorScores(t *testing.T) {
	p := NewPipeline(DefaultPipelineConfig())
	eval := p.Evaluate(validOpportunity(), state.Position{Instrument: "NQ"}, testSnapshot())

	var sum float64
	for _, r := range eval.Results {
		sum += r.Score
	}
	want := sum / float64(len(eval.Results))
	if eval.Score != want {
		t.Fatalf("Score=%v, expected mean %v", eval.Score, want)
	}
}
