package db

import (
	"time"
)

// Position is the persisted per-instrument position row.
type Position struct {
	Instrument  string
	Direction   string
	Size        float64
	AvgPrice    float64
	RealizedPnL float64
	StopPrice   float64
	IsManual    bool
	EntryTime   time.Time
	UpdatedAt   time.Time
}

// TradeRecord is the audit row for a dispatched trade command.
type TradeRecord struct {
	ID            string
	Instrument    string
	Action        string
	Quantity      float64
	EntryPrice    float64
	StopPrice     float64
	TargetPrice   float64
	FillPrice     float64
	Status        string // pending, executed, failed
	Reason        string
	ExecutionTime time.Time
	CreatedAt     time.Time
}

// ReconciliationEvent records one terminal reconciliation outcome for audit.
type ReconciliationEvent struct {
	ID              int64
	Instrument      string
	Outcome         string // resolved, failed
	Attempts        int
	LocalDirection  string
	LocalSize       float64
	BrokerDirection string
	BrokerSize      float64
	CreatedAt       time.Time
}

// RiskSnapshot persists the daily risk counters so a restart mid-session
// does not reset loss limits.
type RiskSnapshot struct {
	Date                string
	DailyPnL            float64
	DailyTrades         int
	ConsecutiveLosses   int
	LifetimeTrades      int
	ConfidenceThreshold float64
}
