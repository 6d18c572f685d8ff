// Package risk gates trade opportunities through the validation pipeline,
// sizes accepted ones, and owns the adaptive risk state.
package risk

import (
	"trading-bridge/internal/market"
)

// Opportunity is a candidate trade assembled by the coordinator from the
// ensemble output and the latest market sample.
type Opportunity struct {
	Instrument     string
	Direction      market.Direction
	Confidence     float64
	Strength       float64
	EntryPrice     float64
	StopPrice      float64
	TargetPrice    float64
	ExpectedProfit float64
	MaxLoss        float64
	WinProbability float64
	Sample         market.Sample
	Hour           int // wall-clock hour of evaluation
}

// ValidatorResult is one validator's verdict.
type ValidatorResult struct {
	Name    string
	Passed  bool
	Reason  string
	Score   float64
	Warning bool
}

// Evaluation is the aggregate pipeline outcome. Score is the mean validator
// score and feeds ranking/telemetry only; validity requires every validator
// to pass.
type Evaluation struct {
	IsValid bool
	Score   float64
	Reasons []string
	Results []ValidatorResult
}

// PreflightResult reports why a cycle was short-circuited before the
// ensemble ever ran.
type PreflightResult struct {
	OK     bool
	Reason string
}
