package trailing

import (
	"trading-bridge/internal/market"
	"trading-bridge/internal/state"
)

// Algorithm identifies one stop-distance strategy.
type Algorithm string

const (
	AdaptiveATR       Algorithm = "adaptive_atr"
	TrendStrength     Algorithm = "trend_strength"
	MomentumAdaptive  Algorithm = "momentum_adaptive"
	SupportResistance Algorithm = "support_resistance"
	ProfitProtection  Algorithm = "profit_protection"
)

const (
	baseATRMultiplier = 1.5
	minAdjustment     = 0.7
	maxAdjustment     = 2.0
)

// stopDistance converts an adjustment factor into a final ATR distance.
// Adjustments are clamped to [0.7, 2.0] of the 1.5-ATR base.
func stopDistance(atr, adjustment float64) float64 {
	if adjustment < minAdjustment {
		adjustment = minAdjustment
	}
	if adjustment > maxAdjustment {
		adjustment = maxAdjustment
	}
	return atr * baseATRMultiplier * adjustment
}

// projectStop places the stop on the correct side of the current price for
// the position's direction.
func projectStop(dir market.Direction, price, distance float64) float64 {
	if dir == market.Short {
		return price + distance
	}
	return price - distance
}

// adaptiveATRStop widens with volatility: calm tape trails tighter, fast
// tape leaves room to breathe.
func adaptiveATRStop(pos state.Position, sample market.Sample, c Classification) float64 {
	adjustment := 0.8 + c.Volatility*0.8
	return projectStop(pos.Direction, sample.Price, stopDistance(sample.ATR, adjustment))
}

// trendStrengthStop gives an established trend extra room proportional to
// its strength.
func trendStrengthStop(pos state.Position, sample market.Sample, c Classification) float64 {
	adjustment := 1.0 + c.TrendStrength*0.6
	return projectStop(pos.Direction, sample.Price, stopDistance(sample.ATR, adjustment))
}

// momentumAdaptiveStop blends trend strength with volatility for fast
// directional tape.
func momentumAdaptiveStop(pos state.Position, sample market.Sample, c Classification) float64 {
	adjustment := 0.9 + c.TrendStrength*0.5 + c.Volatility*0.4
	return projectStop(pos.Direction, sample.Price, stopDistance(sample.ATR, adjustment))
}

// supportResistanceStop anchors to the slow EMA as the nearest structural
// level, expressed as an ATR distance so the clamp still applies.
func supportResistanceStop(pos state.Position, sample market.Sample, c Classification) float64 {
	anchor := sample.EMA.Slow
	if anchor <= 0 {
		return adaptiveATRStop(pos, sample, c)
	}

	dist := sample.Price - anchor
	if pos.Direction == market.Short {
		dist = anchor - sample.Price
	}
	if dist <= 0 {
		dist = sample.ATR * baseATRMultiplier
	}
	// A touch beyond the level so ordinary tests of it do not stop us out.
	dist += sample.ATR * 0.25

	adjustment := dist / (sample.ATR * baseATRMultiplier)
	return projectStop(pos.Direction, sample.Price, stopDistance(sample.ATR, adjustment))
}

// profitProtectionStop tightens hard once the position has meaningful open
// profit.
func profitProtectionStop(pos state.Position, sample market.Sample, _ Classification) float64 {
	return projectStop(pos.Direction, sample.Price, stopDistance(sample.ATR, minAdjustment))
}
