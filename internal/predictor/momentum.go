package predictor

import (
	"context"
	"math"

	"trading-bridge/internal/ensemble"
	"trading-bridge/internal/market"
)

// MomentumPredictor is a deterministic heuristic member built on RSI and EMA
// alignment. It guarantees the ensemble always has a working participant
// even when no model file is configured.
type MomentumPredictor struct {
	Oversold   float64
	Overbought float64
}

// NewMomentumPredictor uses the conventional 30/70 RSI bands.
func NewMomentumPredictor() *MomentumPredictor {
	return &MomentumPredictor{Oversold: 30, Overbought: 70}
}

func (p *MomentumPredictor) Name() string { return "momentum" }

func (p *MomentumPredictor) Ready() bool { return true }

// Predict emits a signed direction: oversold RSI with favorable EMA
// alignment reads long, overbought with adverse alignment reads short.
// Confidence scales with how far RSI sits outside the neutral band.
func (p *MomentumPredictor) Predict(_ context.Context, sample market.Sample) (ensemble.ModelOutput, error) {
	rsi := sample.RSI
	align := sample.EMAAlignment
	if align == 0 {
		align = sample.EMA.Fast - sample.EMA.Slow
	}

	dir := market.Flat
	conf := 0.3

	switch {
	case rsi <= p.Oversold && align >= 0:
		dir = market.Long
		conf = 0.5 + (p.Oversold-rsi)/p.Oversold/2
	case rsi >= p.Overbought && align <= 0:
		dir = market.Short
		conf = 0.5 + (rsi-p.Overbought)/(100-p.Overbought)/2
	case rsi > 50 && align > 0:
		dir = market.Long
		conf = 0.4 + math.Min((rsi-50)/100, 0.2)
	case rsi < 50 && align < 0:
		dir = market.Short
		conf = 0.4 + math.Min((50-rsi)/100, 0.2)
	}

	return ensemble.SignedDirection{Direction: dir, Confidence: conf}, nil
}
