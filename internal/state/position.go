package state

import (
	"time"

	"trading-bridge/internal/market"
)

// Position is the engine's view of one instrument's exposure.
// Invariant: Size == 0 exactly when Direction == Flat; Normalize enforces it
// on every write path.
type Position struct {
	Instrument    string
	Direction     market.Direction
	Size          float64
	AvgPrice      float64
	UnrealizedPnL float64
	RealizedPnL   float64
	StopPrice     float64
	IsManual      bool
	EntryTime     time.Time
}

// Normalize collapses the position onto the flat invariant.
func (p *Position) Normalize() {
	if p.Size < 0 {
		p.Size = 0
	}
	if p.Size == 0 {
		p.Direction = market.Flat
		p.AvgPrice = 0
		p.UnrealizedPnL = 0
		p.StopPrice = 0
		p.EntryTime = time.Time{}
	}
	if p.Direction == market.Flat {
		p.Size = 0
	}
}

// IsFlat reports whether the position carries no exposure.
func (p Position) IsFlat() bool {
	return p.Size == 0 || p.Direction == market.Flat
}

// MarkPrice recomputes unrealized PnL against the given price.
func (p *Position) MarkPrice(price float64, pointValue float64) {
	if p.IsFlat() {
		p.UnrealizedPnL = 0
		return
	}
	diff := price - p.AvgPrice
	if p.Direction == market.Short {
		diff = -diff
	}
	p.UnrealizedPnL = diff * p.Size * pointValue
}

// ProfitPercent returns the unrealized move as a percentage of entry.
func (p Position) ProfitPercent(price float64) float64 {
	if p.IsFlat() || p.AvgPrice == 0 {
		return 0
	}
	pct := (price - p.AvgPrice) / p.AvgPrice * 100
	if p.Direction == market.Short {
		pct = -pct
	}
	return pct
}
