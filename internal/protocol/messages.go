package protocol

import (
	"encoding/json"
	"time"

	"trading-bridge/internal/market"
)

// MessageType tags inbound wire messages.
type MessageType string

const (
	MsgInstrumentRegistration MessageType = "instrument_registration"
	MsgTickData               MessageType = "tick_data"
	MsgStrategyStatus         MessageType = "strategy_status"
	MsgMarketData             MessageType = "market_data"
	MsgTradeExecution         MessageType = "trade_execution"
	MsgPredictionRequest      MessageType = "ml_prediction_request"
	MsgSmartTrailingRequest   MessageType = "smart_trailing_request"
	MsgHeartbeat              MessageType = "heartbeat"
)

// confirmingTypes are the message types whose first arrival marks a
// connection as confirmed.
var confirmingTypes = map[MessageType]bool{
	MsgInstrumentRegistration: true,
	MsgTickData:               true,
	MsgStrategyStatus:         true,
}

// Inbound is one parsed wire message handed to subscribers. Data is the full
// sanitized line, so type-specific handlers unmarshal the shape they expect.
type Inbound struct {
	ConnID string
	Type   MessageType
	Data   json.RawMessage
}

// Handler consumes dispatched messages.
type Handler func(msg Inbound)

// envelope extracts the type tag before full decoding.
type envelope struct {
	Type string `json:"type"`
}

// TickData is the per-tick market payload.
type TickData struct {
	Instrument   string  `json:"instrument"`
	Price        float64 `json:"price"`
	ATR          float64 `json:"atr"`
	RSI          float64 `json:"rsi"`
	Volume       float64 `json:"volume"`
	EMAFast      float64 `json:"ema_fast"`
	EMAMedium    float64 `json:"ema_medium"`
	EMASlow      float64 `json:"ema_slow"`
	EMAAlignment float64 `json:"ema_alignment"`
	ADX          float64 `json:"adx"`
	Timestamp    int64   `json:"timestamp"` // unix millis; zero means receipt time
}

// Sample converts a tick into the engine's immutable market sample.
func (t TickData) Sample(received time.Time) market.Sample {
	ts := received
	if t.Timestamp > 0 {
		ts = time.UnixMilli(t.Timestamp)
	}
	return market.Sample{
		Instrument:   t.Instrument,
		Price:        t.Price,
		ATR:          t.ATR,
		RSI:          t.RSI,
		Volume:       t.Volume,
		EMA:          market.EMASet{Fast: t.EMAFast, Medium: t.EMAMedium, Slow: t.EMASlow},
		EMAAlignment: t.EMAAlignment,
		ADX:          t.ADX,
		Timestamp:    ts,
	}
}

// InstrumentRegistration announces an instrument the platform will stream.
type InstrumentRegistration struct {
	Instrument string  `json:"instrument"`
	TickSize   float64 `json:"tick_size"`
	PointValue float64 `json:"point_value"`
}

// StrategyStatus is the broker-side position report.
type StrategyStatus struct {
	Instrument    string  `json:"instrument"`
	Direction     string  `json:"direction"` // wire case varies; normalize via market.ParseDirection
	Size          float64 `json:"size"`
	AvgPrice      float64 `json:"avg_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// TradeExecution reports the outcome of a dispatched command.
type TradeExecution struct {
	TradeID    string  `json:"trade_id"`
	Instrument string  `json:"instrument"`
	Action     string  `json:"action"`
	Quantity   float64 `json:"quantity"`
	FillPrice  float64 `json:"fill_price"`
	Status     string  `json:"status"` // filled, rejected
}

// PredictionRequest asks for a fresh ensemble evaluation.
type PredictionRequest struct {
	Instrument string `json:"instrument"`
}

// SmartTrailingRequest asks for an immediate trailing-stop pass.
type SmartTrailingRequest struct {
	Instrument string `json:"instrument"`
}

// Command values understood by the platform side.
const (
	CmdGoLong       = "go_long"
	CmdGoShort      = "go_short"
	CmdUpdateStop   = "update_stop"
	CmdSyncPosition = "sync_position"
)

// Command is the outbound order/stop/sync message.
type Command struct {
	Type        string  `json:"type"`
	Command     string  `json:"command"`
	Instrument  string  `json:"instrument"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	StopPrice   float64 `json:"stop_price"`
	TargetPrice float64 `json:"target_price"`
	Reason      string  `json:"reason"`
	TradeID     string  `json:"trade_id,omitempty"`
	Direction   string  `json:"direction,omitempty"`
}

// NewCommand builds an outbound command envelope.
func NewCommand(command, instrument string) Command {
	return Command{Type: "command", Command: command, Instrument: instrument}
}

// PredictionResponse answers an ml_prediction_request.
type PredictionResponse struct {
	Type       string  `json:"type"`
	Instrument string  `json:"instrument"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Strength   float64 `json:"strength"`
	Stabilized bool    `json:"stabilized"`
}

// HeartbeatEcho answers an inbound heartbeat.
type HeartbeatEcho struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
