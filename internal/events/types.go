package events

// Event enumerates high-level topics inside the trading bridge.
type Event string

const (
	EventTick                 Event = "tick"
	EventPrediction           Event = "prediction"
	EventPositionUpdate       Event = "position_update"
	EventTradeExecuted        Event = "trade_executed"
	EventTradeCompleted       Event = "trade_completed"
	EventTradeFailed          Event = "trade_failed"
	EventPositionReconciled   Event = "position_reconciled"
	EventReconciliationFailed Event = "reconciliation_failed"
	EventConnectionConfirmed  Event = "connection_confirmed"
	EventConnectionLost       Event = "connection_lost"
	EventRiskAlert            Event = "risk_alert"
)
