package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trading-bridge/internal/ensemble"
	"trading-bridge/internal/events"
	"trading-bridge/internal/market"
	"trading-bridge/internal/protocol"
	"trading-bridge/internal/reconcile"
	"trading-bridge/internal/state"
	"trading-bridge/pkg/config"
)

const sampleFreshness = 5 * time.Second

func (c *Coordinator) handleTick(msg protocol.Inbound) {
	var tick protocol.TickData
	if err := json.Unmarshal(msg.Data, &tick); err != nil {
		c.log.WithError(err).Warn("malformed tick payload")
		return
	}
	if tick.Instrument == "" || tick.Price <= 0 {
		return
	}

	sample := tick.Sample(time.Now())

	// Platforms that stream bare prices get their indicators computed here.
	derived := c.ind.Update(sample.Instrument, sample.Price)
	if sample.ATR == 0 {
		sample.ATR = derived["atr"]
	}
	if sample.RSI == 0 {
		sample.RSI = derived["rsi"]
	}
	if sample.EMA.Fast == 0 {
		sample.EMA.Fast = derived["ema_fast"]
		sample.EMA.Slow = derived["ema_slow"]
	}

	c.samples.Set(sample)
	c.bus.Publish(events.EventTick, sample)

	// Mark-to-market writes sqlite, so it hops off the read goroutine.
	if pos := c.store.Position(sample.Instrument); !pos.IsFlat() {
		c.async(func() {
			updated, err := c.store.Update(c.ctx, sample.Instrument, func(p state.Position) state.Position {
				p.MarkPrice(sample.Price, c.pointValue(sample.Instrument))
				return p
			})
			if err == nil {
				c.bus.Publish(events.EventPositionUpdate, updated)
			}
		})
	}

	c.runCycle(sample)
}

func (c *Coordinator) handleRegistration(msg protocol.Inbound) {
	var reg protocol.InstrumentRegistration
	if err := json.Unmarshal(msg.Data, &reg); err != nil || reg.Instrument == "" {
		return
	}
	c.mu.Lock()
	if reg.PointValue > 0 {
		c.pointValues[reg.Instrument] = reg.PointValue
	}
	c.mu.Unlock()
	c.log.WithField("instrument", reg.Instrument).Info("instrument registered")
}

func (c *Coordinator) handleStrategyStatus(msg protocol.Inbound) {
	var status protocol.StrategyStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil || status.Instrument == "" {
		return
	}
	c.recon.OnBrokerReport(c.ctx, reconcile.BrokerReport{
		Instrument: status.Instrument,
		Direction:  market.ParseDirection(status.Direction),
		Size:       status.Size,
	})
}

// handleTradeExecution resolves pending confirmations, or applies an
// unsolicited execution (stop hit, target hit, platform-side close) to the
// position.
func (c *Coordinator) handleTradeExecution(msg protocol.Inbound) {
	var exec protocol.TradeExecution
	if err := json.Unmarshal(msg.Data, &exec); err != nil {
		c.log.WithError(err).Warn("malformed trade execution payload")
		return
	}

	if c.resolvePending(exec) {
		return
	}

	if isExit(exec.Action) || opposesOpen(c.store.Position(exec.Instrument), exec.Action) {
		c.completeTrade(exec.Instrument, exec.FillPrice, "platform execution: "+exec.Action)
	}
}

// resolvePending matches an execution report to an awaiting dispatch, first
// by trade ID, then by instrument and action for platforms that do not echo
// the ID back.
func (c *Coordinator) resolvePending(exec protocol.TradeExecution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[exec.TradeID]; ok {
		select {
		case p.confirm <- exec:
		default:
		}
		return true
	}
	if exec.TradeID != "" {
		return false
	}
	dir := market.ParseDirection(exec.Action)
	for _, p := range c.pending {
		if p.cmd.Instrument != exec.Instrument || market.ParseDirection(p.cmd.Action) != dir {
			continue
		}
		select {
		case p.confirm <- exec:
			return true
		default:
		}
	}
	return false
}

func (c *Coordinator) handlePredictionRequest(msg protocol.Inbound) {
	var req protocol.PredictionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.Instrument == "" {
		return
	}

	// Model inference and the response write can both stall; neither may
	// run on the connection's read goroutine.
	c.async(func() {
		pred := ensemble.NeutralFallback()
		if sample, ok := c.samples.GetFresh(req.Instrument, sampleFreshness); ok {
			pred = c.ensemble.Evaluate(c.ctx, sample)
		}

		c.gateway.SendTo(msg.ConnID, protocol.PredictionResponse{
			Type:       "ml_prediction",
			Instrument: req.Instrument,
			Direction:  string(pred.Direction),
			Confidence: pred.Confidence,
			Strength:   pred.Strength,
			Stabilized: pred.Stabilized,
		})
	})
}

func (c *Coordinator) handleTrailingRequest(msg protocol.Inbound) {
	var req protocol.SmartTrailingRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.Instrument == "" {
		return
	}
	c.async(func() { c.trailingPass(req.Instrument) })
}

// trailingPass runs one trailing-stop evaluation for an instrument and, when
// the stop moved, records it and tells the platform.
func (c *Coordinator) trailingPass(instrument string) {
	pos := c.store.Position(instrument)
	if pos.IsFlat() {
		return
	}
	sample, ok := c.samples.GetFresh(instrument, sampleFreshness)
	if !ok {
		return
	}

	update := c.trailing.Evaluate(pos, sample)
	if !update.Changed {
		return
	}

	updated, err := c.store.Update(c.ctx, instrument, func(p state.Position) state.Position {
		p.StopPrice = update.StopPrice
		return p
	})
	if err != nil {
		c.log.WithError(err).Warn("could not persist trailing stop")
		return
	}

	cmd := protocol.NewCommand(protocol.CmdUpdateStop, instrument)
	cmd.StopPrice = update.StopPrice
	cmd.Reason = update.Reasoning
	c.gateway.Broadcast(cmd)

	c.bus.Publish(events.EventPositionUpdate, updated)
	c.log.WithField("instrument", instrument).
		WithField("stop", update.StopPrice).
		WithField("algorithm", update.Algorithm).
		Debug("trailing stop moved")
}

// ApplySettings propagates operator settings changes into the live engine.
func (c *Coordinator) ApplySettings(s config.Settings) {
	c.ensemble.SetWeights(s.EnsembleWeights)
	c.riskState.SetConfidenceThreshold(s.ConfidenceThreshold)
}

// RequestPrediction evaluates the ensemble on the freshest cached sample.
// Exposed to the dashboard API.
func (c *Coordinator) RequestPrediction(instrument string) (ensemble.Prediction, error) {
	sample, ok := c.samples.GetFresh(instrument, sampleFreshness)
	if !ok {
		return ensemble.Prediction{}, fmt.Errorf("no fresh market data for %s", instrument)
	}
	pred := c.ensemble.Evaluate(c.ctx, sample)
	c.bus.Publish(events.EventPrediction, pred)
	return pred, nil
}

// SubmitManualTrade dispatches an operator-initiated trade. The resulting
// position is flagged manual, which relaxes the trailing movement rules to
// the clamped bidirectional mode.
func (c *Coordinator) SubmitManualTrade(instrument, direction string, quantity int, reason string) error {
	dir := market.ParseDirection(direction)
	if dir == market.Flat {
		return fmt.Errorf("direction %q does not resolve to long or short", direction)
	}
	if quantity < 1 {
		return fmt.Errorf("quantity must be at least 1")
	}
	if max := c.cfg.Sizing.MaxSize; quantity > max {
		return fmt.Errorf("quantity %d exceeds the %d contract cap", quantity, max)
	}

	c.mu.Lock()
	_, busy := c.active[instrument]
	c.mu.Unlock()
	if busy {
		return fmt.Errorf("%s already has an open trade", instrument)
	}

	sample, ok := c.samples.GetFresh(instrument, sampleFreshness)
	if !ok {
		return fmt.Errorf("no fresh market data for %s", instrument)
	}

	stopDist := stopOffsetATR * sample.ATR
	cmd := TradeCommand{
		TradeID:    uuid.New().String(),
		Instrument: instrument,
		Action:     actionFor(dir),
		Quantity:   quantity,
		EntryPrice: sample.Price,
		Reason:     reason,
	}
	if dir == market.Long {
		cmd.StopPrice = sample.Price - stopDist
		cmd.TargetPrice = sample.Price + targetOffsetATR*sample.ATR
	} else {
		cmd.StopPrice = sample.Price + stopDist
		cmd.TargetPrice = sample.Price - targetOffsetATR*sample.ATR
	}
	if cmd.Reason == "" {
		cmd.Reason = "manual override"
	}

	c.executeTrade(cmd, true)
	return nil
}

// ResetPosition force-flattens the local record and tells the platform to
// sync. Used by the dashboard when the operator knows the local state is
// wrong.
func (c *Coordinator) ResetPosition(ctx context.Context, instrument string) error {
	if err := c.store.Reset(ctx, instrument); err != nil {
		return err
	}
	c.cancelMonitor(instrument)

	cmd := protocol.NewCommand(protocol.CmdSyncPosition, instrument)
	cmd.Direction = string(market.Flat)
	c.gateway.Broadcast(cmd)

	c.bus.Publish(events.EventPositionUpdate, c.store.Position(instrument))
	return nil
}

// ActiveTrades returns a copy of the currently supervised trades.
func (c *Coordinator) ActiveTrades() []ExecutedTrade {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExecutedTrade, 0, len(c.active))
	for _, t := range c.active {
		out = append(out, *t)
	}
	return out
}

func isExit(action string) bool {
	switch strings.ToLower(action) {
	case "exit", "close", "flatten", "stop_hit", "target_hit":
		return true
	}
	return false
}

func opposesOpen(pos state.Position, action string) bool {
	if pos.IsFlat() {
		return false
	}
	dir := market.ParseDirection(action)
	return dir != market.Flat && dir == pos.Direction.Opposite()
}
