// Package engine orchestrates the decision cycle: tick in, ensemble, risk
// gate, sizing, dispatch, confirmation, and per-trade monitoring.
package engine

import (
	"context"
	"time"

	"trading-bridge/internal/protocol"
)

// TradeStatus tracks a dispatched command's lifecycle.
type TradeStatus string

const (
	StatusPending  TradeStatus = "pending"
	StatusExecuted TradeStatus = "executed"
	StatusFailed   TradeStatus = "failed"
)

// TradeCommand is the immutable order intent. Exactly one is created per
// accepted opportunity; nothing mutates it after dispatch.
type TradeCommand struct {
	TradeID     string
	Instrument  string
	Action      string // go_long | go_short
	Quantity    int
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Reason      string
}

// pendingTrade is a dispatched command still awaiting the platform's
// execution report.
type pendingTrade struct {
	cmd     TradeCommand
	confirm chan protocol.TradeExecution
}

// ExecutedTrade is a command plus its execution outcome and the handle to
// its monitoring task.
type ExecutedTrade struct {
	TradeCommand
	FillPrice     float64
	ExecutionTime time.Time
	Status        TradeStatus

	// Position's cumulative realized PnL when this trade opened. Completion
	// reports the delta past this baseline, not the instrument's history.
	priorRealized float64

	cancelMonitor context.CancelFunc
	cancelled     bool
}
