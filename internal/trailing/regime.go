// Package trailing selects and runs the regime-appropriate trailing-stop
// algorithm for open positions.
package trailing

import (
	"math"

	"trading-bridge/internal/market"
)

// Regime labels the prevailing market condition.
type Regime string

const (
	Trending     Regime = "trending"
	Ranging      Regime = "ranging"
	Volatile     Regime = "volatile"
	Transitional Regime = "transitional"
)

// Classification is the regime verdict with its component scores, each in [0,1].
type Classification struct {
	Regime        Regime
	TrendStrength float64 // ADX-derived
	Volatility    float64 // ATR-derived
	EMAAlignment  float64 // agreement of the EMA stack with price direction
}

// Classify scores the latest sample and labels the regime.
func Classify(sample market.Sample) Classification {
	c := Classification{
		TrendStrength: trendStrength(sample),
		Volatility:    volatilityLevel(sample),
		EMAAlignment:  emaAlignment(sample),
	}

	switch {
	case c.Volatility > 0.8:
		c.Regime = Volatile
	case c.TrendStrength > 0.6 && c.EMAAlignment > 0.5:
		c.Regime = Trending
	case c.TrendStrength < 0.3:
		c.Regime = Ranging
	default:
		c.Regime = Transitional
	}
	return c
}

// trendStrength maps ADX onto [0,1]; 50+ reads as a fully established trend.
func trendStrength(sample market.Sample) float64 {
	return clamp01(sample.ADX / 50)
}

// volatilityLevel maps ATR as a fraction of price onto [0,1]; 3% of price
// saturates the scale, matching the admission pipeline's volatility ceiling.
func volatilityLevel(sample market.Sample) float64 {
	if sample.Price <= 0 {
		return 0
	}
	return clamp01((sample.ATR / sample.Price) / 0.03)
}

// emaAlignment scores how cleanly the EMA stack is ordered. A platform
// supplied alignment value wins; otherwise the fast/medium/slow ordering is
// scored directly.
func emaAlignment(sample market.Sample) float64 {
	if sample.EMAAlignment != 0 {
		// Platform reports alignment on a signed -100..100 scale.
		return clamp01(math.Abs(sample.EMAAlignment) / 100)
	}

	e := sample.EMA
	if e.Fast == 0 || e.Medium == 0 || e.Slow == 0 {
		return 0
	}
	if (e.Fast > e.Medium && e.Medium > e.Slow) || (e.Fast < e.Medium && e.Medium < e.Slow) {
		spreadPct := math.Abs(e.Fast-e.Slow) / sample.Price
		return clamp01(0.5 + spreadPct/0.01*0.5)
	}
	return 0.25
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
