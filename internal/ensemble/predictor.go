// Package ensemble fuses the outputs of independent predictive models into a
// single stabilized trade signal.
package ensemble

import (
	"context"

	"trading-bridge/internal/market"
)

// ModelOutput is the tagged union of shapes a model family may return.
// Each variant is normalized by its own adapter (adapters.go); nothing in
// the combiner ever sniffs fields at runtime.
type ModelOutput interface {
	normalize() normalized
}

// ProbabilityPair is a direct long/short probability output.
type ProbabilityPair struct {
	Long       float64
	Short      float64
	Confidence float64
}

// QValueVector is a raw action-value vector ordered [short, flat, long],
// converted to probabilities through softmax.
type QValueVector struct {
	Values     []float64
	Confidence float64
}

// SignedDirection is a discrete direction call with a confidence level.
type SignedDirection struct {
	Direction  market.Direction
	Confidence float64
}

// Predictor is the contract a model must satisfy to join the ensemble.
// Implementations must be safe for concurrent use; a Predict error or panic
// removes only that model from the current cycle.
type Predictor interface {
	Name() string
	Ready() bool
	Predict(ctx context.Context, sample market.Sample) (ModelOutput, error)
}

// Recommendation tiers a combined prediction by actionability.
type Recommendation string

const (
	Neutral        Recommendation = "NEUTRAL"
	WeakSignal     Recommendation = "WEAK_SIGNAL"
	ModerateSignal Recommendation = "MODERATE_SIGNAL"
	StrongSignal   Recommendation = "STRONG_SIGNAL"
)

// Prediction is the fused decision for one evaluation cycle.
type Prediction struct {
	Instrument     string
	Direction      market.Direction
	Confidence     float64
	Strength       float64
	LongProb       float64
	ShortProb      float64
	Recommendation Recommendation
	Contributions  map[string]float64 // model name -> normalized weight
	Stabilized     bool               // true when the hysteresis fallback replaced the raw result
}

// NeutralFallback is returned when every model in the ensemble fails.
func NeutralFallback() Prediction {
	return Prediction{
		Direction:      market.Flat,
		Confidence:     0.3,
		LongProb:       0.5,
		ShortProb:      0.5,
		Recommendation: Neutral,
		Contributions:  map[string]float64{},
	}
}
