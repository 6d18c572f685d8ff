package risk

import (
	"math"
)

// SizingConfig tunes the position sizing calculator.
type SizingConfig struct {
	MaxSize        int     // hard contract cap
	FreeMargin     float64 // account free margin in dollars
	RiskPerTradePc float64 // dollar risk cap as a fraction of free margin
	KellyFraction  float64 // fractional Kelly multiplier
	MinLossFloor   float64 // defensive floor for the Kelly payoff denominator
}

// DefaultSizingConfig returns the stock sizing settings.
func DefaultSizingConfig(freeMargin float64) SizingConfig {
	return SizingConfig{
		MaxSize:        5,
		FreeMargin:     freeMargin,
		RiskPerTradePc: 0.02,
		KellyFraction:  0.25,
		MinLossFloor:   1,
	}
}

// SizeDecision explains how the final quantity was chosen.
type SizeDecision struct {
	Quantity       int
	KellySize      int
	RiskLimitSize  int
	VolAdjusted    int
	LimitingFactor string
}

// PositionSize computes min(Kelly, risk-limit, volatility-adjusted), floored
// at one contract and capped at MaxSize. It never returns a quantity outside
// [1, MaxSize] regardless of inputs.
func PositionSize(cfg SizingConfig, opp Opportunity) SizeDecision {
	kelly := kellySize(cfg, opp)
	riskLimit := riskLimitSize(cfg, opp)
	vol := volatilityAdjustedSize(cfg, opp, riskLimit)

	dec := SizeDecision{KellySize: kelly, RiskLimitSize: riskLimit, VolAdjusted: vol}

	qty := kelly
	dec.LimitingFactor = "kelly"
	if riskLimit < qty {
		qty = riskLimit
		dec.LimitingFactor = "risk_limit"
	}
	if vol < qty {
		qty = vol
		dec.LimitingFactor = "volatility"
	}

	if qty < 1 {
		qty = 1
		dec.LimitingFactor = "floor"
	}
	if qty > cfg.MaxSize {
		qty = cfg.MaxSize
		dec.LimitingFactor = "cap"
	}
	dec.Quantity = qty
	return dec
}

// kellySize applies fractional Kelly: f = k * ((p*b - q) / b) with
// b = expectedProfit / maxLoss, clamped to [0, 0.25] and scaled to contracts.
// The payoff denominator is floored so b can never reach zero; a
// non-positive edge yields size zero, which the caller's floor raises to the
// one-contract minimum.
func kellySize(cfg SizingConfig, opp Opportunity) int {
	loss := opp.MaxLoss
	if loss < cfg.MinLossFloor {
		loss = cfg.MinLossFloor
	}
	b := opp.ExpectedProfit / loss
	if b <= 0 {
		return 0
	}

	p := clampRange(opp.WinProbability, 0, 1)
	q := 1 - p
	fraction := cfg.KellyFraction * ((p*b - q) / b)
	fraction = clampRange(fraction, 0, 0.25)

	return int(math.Round(10 * fraction))
}

// riskLimitSize caps dollar risk per trade at a fraction of free margin.
func riskLimitSize(cfg SizingConfig, opp Opportunity) int {
	riskBudget := cfg.FreeMargin * cfg.RiskPerTradePc
	loss := opp.MaxLoss
	if loss < cfg.MinLossFloor {
		loss = cfg.MinLossFloor
	}
	size := int(riskBudget / loss)
	if size < 0 {
		size = 0
	}
	return size
}

// volatilityAdjustedSize scales the risk-limit size by current volatility:
// down ~30% when ATR/price exceeds 2%, up ~20% when below 1%.
func volatilityAdjustedSize(cfg SizingConfig, opp Opportunity, base int) int {
	if opp.EntryPrice <= 0 {
		return base
	}
	vol := opp.Sample.ATR / opp.EntryPrice
	scaled := float64(base)
	switch {
	case vol > 0.02:
		scaled *= 0.7
	case vol < 0.01:
		scaled *= 1.2
	}
	return int(math.Round(scaled))
}
