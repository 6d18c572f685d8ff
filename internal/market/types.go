// Package market defines the value types shared across the decision pipeline.
package market

import (
	"strings"
	"time"
)

// Direction is the canonical position/signal direction. The wire protocol is
// sloppy about case ("LONG", "long", "Long" all appear); every boundary must
// normalize through ParseDirection so only these constants circulate inside
// the engine.
type Direction string

const (
	Flat  Direction = "FLAT"
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ParseDirection normalizes a wire-format direction string.
func ParseDirection(s string) Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY", "GO_LONG":
		return Long
	case "SHORT", "SELL", "GO_SHORT":
		return Short
	default:
		return Flat
	}
}

// Opposite returns the reversed direction; Flat stays Flat.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Flat
	}
}

// EMASet carries the exponential moving averages reported with a tick.
type EMASet struct {
	Fast   float64 `json:"fast"`
	Medium float64 `json:"medium"`
	Slow   float64 `json:"slow"`
}

// Sample is one immutable market observation produced by the protocol
// gateway per tick and consumed by all decision components.
type Sample struct {
	Instrument   string
	Price        float64
	ATR          float64
	RSI          float64
	Volume       float64
	EMA          EMASet
	EMAAlignment float64 // signed alignment score from the platform, if present
	ADX          float64
	Timestamp    time.Time
}

// Age returns how stale the sample is at the given instant.
func (s Sample) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Complete reports whether the fields the decision pipeline requires are set.
func (s Sample) Complete() bool {
	return s.Instrument != "" && s.Price > 0 && s.ATR > 0 && !s.Timestamp.IsZero()
}
