package trailing

import (
	"fmt"
	"math"

	"trading-bridge/internal/market"
	"trading-bridge/internal/state"
)

const (
	profitProtectionPct = 2.0 // open profit % that triggers protection mode
	manualMoveClampATR  = 0.5 // max stop movement per update on manual positions
)

// Update is the engine's verdict for one monitoring pass.
type Update struct {
	StopPrice  float64
	Algorithm  Algorithm
	Confidence float64
	Reasoning  string
	Changed    bool // false when the computed stop equals the recorded one
}

// Engine selects and executes the regime-appropriate stop algorithm.
type Engine struct{}

// NewEngine creates a trailing stop engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate classifies the regime, picks an algorithm by priority, computes
// the candidate stop, and applies the movement rules. An unchanged stop is a
// no-op (Changed=false), never an error.
func (e *Engine) Evaluate(pos state.Position, sample market.Sample) Update {
	if pos.IsFlat() {
		return Update{Reasoning: "position is flat"}
	}

	c := Classify(sample)
	algo, reason := e.selectAlgorithm(pos, sample, c)

	var candidate float64
	switch algo {
	case TrendStrength:
		candidate = trendStrengthStop(pos, sample, c)
	case MomentumAdaptive:
		candidate = momentumAdaptiveStop(pos, sample, c)
	case SupportResistance:
		candidate = supportResistanceStop(pos, sample, c)
	case ProfitProtection:
		candidate = profitProtectionStop(pos, sample, c)
	default:
		candidate = adaptiveATRStop(pos, sample, c)
	}

	final := e.applyMovementRules(pos, sample, candidate)

	return Update{
		StopPrice:  final,
		Algorithm:  algo,
		Confidence: selectionConfidence(c),
		Reasoning:  reason,
		Changed:    pos.StopPrice == 0 || final != pos.StopPrice,
	}
}

// selectAlgorithm applies the priority ladder. Manual positions always take
// adaptive-ATR so a human-initiated trade is never tightened aggressively by
// the regime logic.
func (e *Engine) selectAlgorithm(pos state.Position, sample market.Sample, c Classification) (Algorithm, string) {
	if pos.IsManual {
		return AdaptiveATR, "manual position: adaptive ATR with movement clamp"
	}

	switch {
	case c.Regime == Trending && c.TrendStrength > 0.7:
		if c.Volatility > 0.6 {
			return MomentumAdaptive, fmt.Sprintf("strong trend (%.2f) in fast tape (vol %.2f)", c.TrendStrength, c.Volatility)
		}
		return TrendStrength, fmt.Sprintf("strong trend (%.2f), letting it run", c.TrendStrength)
	case c.Regime == Ranging:
		return SupportResistance, "ranging regime: anchoring to structure"
	case c.Volatility > 0.8:
		return AdaptiveATR, fmt.Sprintf("extreme volatility (%.2f)", c.Volatility)
	case pos.ProfitPercent(sample.Price) > profitProtectionPct:
		return ProfitProtection, fmt.Sprintf("protecting %.1f%% open profit", pos.ProfitPercent(sample.Price))
	default:
		return AdaptiveATR, "default adaptive ATR"
	}
}

// applyMovementRules enforces how far the stop may move in one update.
// Algorithmic positions trail monotonically: the stop only ever tightens.
// Manual positions may move either way but by no more than 0.5 ATR per pass.
func (e *Engine) applyMovementRules(pos state.Position, sample market.Sample, candidate float64) float64 {
	current := pos.StopPrice
	if current == 0 {
		return candidate
	}

	if pos.IsManual {
		clamp := sample.ATR * manualMoveClampATR
		if diff := candidate - current; math.Abs(diff) > clamp {
			if diff > 0 {
				return current + clamp
			}
			return current - clamp
		}
		return candidate
	}

	if pos.Direction == market.Long {
		return math.Max(current, candidate)
	}
	return math.Min(current, candidate)
}

// selectionConfidence reflects how decisive the classification was.
func selectionConfidence(c Classification) float64 {
	switch c.Regime {
	case Trending:
		return 0.6 + c.TrendStrength*0.4
	case Volatile:
		return 0.6 + c.Volatility*0.3
	case Ranging:
		return 0.7
	default:
		return 0.5
	}
}
