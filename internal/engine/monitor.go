package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"trading-bridge/internal/events"
	"trading-bridge/internal/market"
	"trading-bridge/internal/state"
)

// startMonitor launches the supervision loop for an executed trade. The loop
// runs trailing-stop maintenance and position reconciliation on a fixed
// interval until the position goes flat, then cancels itself exactly once.
func (c *Coordinator) startMonitor(trade *ExecutedTrade) {
	ctx, cancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	trade.cancelMonitor = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.monitorLoop(ctx, trade.Instrument)
	}()
}

func (c *Coordinator) monitorLoop(ctx context.Context, instrument string) {
	log := c.log.WithField("instrument", instrument)
	log.Debug("monitor loop started")

	ticker := time.NewTicker(c.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("monitor loop cancelled")
			return
		case <-ticker.C:
			pos := c.store.Position(instrument)
			if pos.IsFlat() {
				// Execution reports normally complete the trade before the
				// loop sees a flat position. This path catches positions
				// flattened by reconciliation or an operator reset.
				c.completeTrade(instrument, 0, "position flat")
				return
			}

			c.trailingPass(instrument)
			c.recon.Check(ctx, instrument)
		}
	}
}

// completeTrade flattens the local position, realizes the PnL into the risk
// counters, and tears down the monitor. It is idempotent: the execution
// report path and the monitor loop can both reach it, only the first wins.
func (c *Coordinator) completeTrade(instrument string, fillPrice float64, reason string) {
	c.mu.Lock()
	trade, ok := c.active[instrument]
	if !ok || trade.cancelled {
		c.mu.Unlock()
		return
	}
	trade.cancelled = true
	cancel := trade.cancelMonitor
	delete(c.active, instrument)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	pos := c.store.Position(instrument)
	// Already flat means something else realized the exit; report only what
	// accrued past this trade's baseline, never the instrument's history.
	pnl := pos.RealizedPnL - trade.priorRealized
	if !pos.IsFlat() {
		exit := fillPrice
		if exit == 0 {
			if sample, ok := c.samples.Get(instrument); ok {
				exit = sample.Price
			} else {
				exit = pos.AvgPrice
			}
		}
		pnl = realizedPnL(pos, exit, c.pointValue(instrument))

		flat, err := c.store.Update(c.ctx, instrument, func(p state.Position) state.Position {
			p.RealizedPnL += pnl
			p.Direction = market.Flat
			p.Size = 0
			return p
		})
		if err != nil {
			c.log.WithError(err).Error("could not flatten position on completion")
		} else {
			c.bus.Publish(events.EventPositionUpdate, flat)
		}
	}

	c.riskState.RecordTrade(c.ctx, pnl)

	trade.Status = StatusExecuted
	c.bus.Publish(events.EventTradeCompleted, map[string]any{
		"trade_id":   trade.TradeID,
		"instrument": instrument,
		"pnl":        pnl,
		"reason":     reason,
	})
	c.log.WithFields(logrus.Fields{
		"trade_id": trade.TradeID, "instrument": instrument,
		"pnl": pnl, "reason": reason,
	}).Info("trade completed")
}

// cancelMonitor tears down supervision without recording a trade outcome.
func (c *Coordinator) cancelMonitor(instrument string) {
	c.mu.Lock()
	trade, ok := c.active[instrument]
	if ok {
		trade.cancelled = true
		delete(c.active, instrument)
	}
	c.mu.Unlock()
	if ok && trade.cancelMonitor != nil {
		trade.cancelMonitor()
	}
}

func realizedPnL(pos state.Position, exitPrice, pointValue float64) float64 {
	diff := exitPrice - pos.AvgPrice
	if pos.Direction == market.Short {
		diff = -diff
	}
	return diff * pos.Size * pointValue
}
