package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trading-bridge/internal/ensemble"
	"trading-bridge/internal/events"
	"trading-bridge/internal/indicators"
	"trading-bridge/internal/market"
	"trading-bridge/internal/protocol"
	"trading-bridge/internal/reconcile"
	"trading-bridge/internal/risk"
	"trading-bridge/internal/state"
	"trading-bridge/internal/trailing"
	"trading-bridge/pkg/cache"
	"trading-bridge/pkg/config"
	"trading-bridge/pkg/db"
	"trading-bridge/pkg/logger"
)

const (
	defaultConfirmTimeout  = 5 * time.Second
	defaultMonitorInterval = 5 * time.Second

	// Stop and target offsets for generated opportunities, in ATR units.
	stopOffsetATR   = 1.5
	targetOffsetATR = 3.0
)

// Config carries the tunables the coordinator needs at construction time.
type Config struct {
	ConfirmTimeout  time.Duration
	MonitorInterval time.Duration
	Sizing          risk.SizingConfig
}

// Coordinator is the composition root of the trading loop. It listens to
// gateway traffic, runs the decision cycle on fresh ticks, dispatches trade
// commands, and supervises every open trade until it is flat.
type Coordinator struct {
	cfg       Config
	gateway   *protocol.Gateway
	ensemble  *ensemble.Ensemble
	pipeline  *risk.Pipeline
	riskState *risk.State
	trailing  *trailing.Engine
	recon     *reconcile.Reconciler
	store     *state.Store
	samples   *cache.ShardedSampleCache
	ind       *indicators.Engine
	settings  *config.SettingsStore
	bus       *events.Bus
	database  *db.Database
	log       *logrus.Entry

	mu          sync.Mutex
	pending     map[string]*pendingTrade  // trade ID -> awaiting confirmation
	active      map[string]*ExecutedTrade // instrument -> open trade
	inFlight    map[string]bool           // instrument -> cycle running
	pointValues map[string]float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a coordinator. Start must be called before it reacts to
// gateway traffic.
func New(cfg Config, gw *protocol.Gateway, ens *ensemble.Ensemble, pipe *risk.Pipeline,
	rs *risk.State, tr *trailing.Engine, rec *reconcile.Reconciler, store *state.Store,
	samples *cache.ShardedSampleCache, ind *indicators.Engine,
	settings *config.SettingsStore, bus *events.Bus, database *db.Database) *Coordinator {

	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = defaultMonitorInterval
	}
	return &Coordinator{
		cfg:         cfg,
		gateway:     gw,
		ensemble:    ens,
		pipeline:    pipe,
		riskState:   rs,
		trailing:    tr,
		recon:       rec,
		store:       store,
		samples:     samples,
		ind:         ind,
		settings:    settings,
		bus:         bus,
		database:    database,
		log:         logger.Component("coordinator"),
		pending:     make(map[string]*pendingTrade),
		active:      make(map[string]*ExecutedTrade),
		inFlight:    make(map[string]bool),
		pointValues: make(map[string]float64),
	}
}

// Start registers the gateway handlers and resumes monitoring for positions
// restored from persistence.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.gateway.Subscribe(protocol.MsgTickData, c.handleTick)
	c.gateway.Subscribe(protocol.MsgMarketData, c.handleTick)
	c.gateway.Subscribe(protocol.MsgInstrumentRegistration, c.handleRegistration)
	c.gateway.Subscribe(protocol.MsgStrategyStatus, c.handleStrategyStatus)
	c.gateway.Subscribe(protocol.MsgTradeExecution, c.handleTradeExecution)
	c.gateway.Subscribe(protocol.MsgPredictionRequest, c.handlePredictionRequest)
	c.gateway.Subscribe(protocol.MsgSmartTrailingRequest, c.handleTrailingRequest)

	// Positions that survived a restart still need supervision.
	for _, pos := range c.store.Positions() {
		if pos.IsFlat() {
			continue
		}
		trade := &ExecutedTrade{
			TradeCommand: TradeCommand{
				TradeID:    uuid.New().String(),
				Instrument: pos.Instrument,
				Action:     actionFor(pos.Direction),
				Quantity:   int(pos.Size),
				EntryPrice: pos.AvgPrice,
				StopPrice:  pos.StopPrice,
				Reason:     "restored from persistence",
			},
			FillPrice:     pos.AvgPrice,
			ExecutionTime: time.Now(),
			Status:        StatusExecuted,
			priorRealized: pos.RealizedPnL,
		}
		c.mu.Lock()
		c.active[pos.Instrument] = trade
		c.mu.Unlock()
		c.startMonitor(trade)
		c.log.WithField("instrument", pos.Instrument).Info("resumed monitoring for persisted position")
	}

	c.log.Info("coordinator started")
}

// Stop cancels every monitor loop and waits for them to drain.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.Info("coordinator stopped")
}

// runCycle executes one decision cycle for an instrument. At most one cycle
// per instrument runs at a time; overlapping ticks are dropped rather than
// queued so slow cycles never back up the gateway reader.
func (c *Coordinator) runCycle(sample market.Sample) {
	instrument := sample.Instrument

	c.mu.Lock()
	if c.inFlight[instrument] {
		c.mu.Unlock()
		return
	}
	c.inFlight[instrument] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, instrument)
			c.mu.Unlock()
		}()
		c.decide(sample)
	}()
}

// async runs fn on a coordinator-owned goroutine. Gateway dispatch invokes
// handlers on the connection's read goroutine, so anything that touches a
// predictor, the database, or an outbound socket write must hop off it.
func (c *Coordinator) async(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Coordinator) decide(sample market.Sample) {
	log := c.log.WithField("instrument", sample.Instrument)

	if !c.settings.Get().AutoTradingEnabled {
		return
	}

	// One open trade per instrument. The monitor loop owns exits.
	c.mu.Lock()
	_, busy := c.active[sample.Instrument]
	c.mu.Unlock()
	if busy {
		return
	}

	snap := c.riskState.Snapshot()
	pre := risk.Preflight(risk.PreflightInput{
		PredictorReady:  c.ensemble.Ready(),
		BrokerConnected: c.gateway.IsConnected(),
		Sample:          sample,
		Now:             time.Now(),
	}, snap)
	if !pre.OK {
		log.WithField("reason", pre.Reason).Debug("preflight rejected cycle")
		return
	}

	pred := c.ensemble.Evaluate(c.ctx, sample)
	c.bus.Publish(events.EventPrediction, pred)

	if pred.Direction == market.Flat || !actionable(pred.Recommendation) {
		return
	}

	opp := c.buildOpportunity(sample, pred)
	pos := c.store.Position(sample.Instrument)
	eval := c.pipeline.Evaluate(opp, pos, snap)
	if !eval.IsValid {
		log.WithField("reasons", eval.Reasons).Debug("opportunity rejected")
		return
	}

	decision := risk.PositionSize(c.cfg.Sizing, opp)
	cmd := TradeCommand{
		TradeID:     uuid.New().String(),
		Instrument:  opp.Instrument,
		Action:      actionFor(opp.Direction),
		Quantity:    decision.Quantity,
		EntryPrice:  opp.EntryPrice,
		StopPrice:   opp.StopPrice,
		TargetPrice: opp.TargetPrice,
		Reason: fmt.Sprintf("%s, confidence %.2f, sized by %s",
			pred.Recommendation, pred.Confidence, decision.LimitingFactor),
	}
	c.executeTrade(cmd, false)
}

func (c *Coordinator) buildOpportunity(sample market.Sample, pred ensemble.Prediction) risk.Opportunity {
	pv := c.pointValue(sample.Instrument)
	stopDist := stopOffsetATR * sample.ATR
	targetDist := targetOffsetATR * sample.ATR

	opp := risk.Opportunity{
		Instrument:     sample.Instrument,
		Direction:      pred.Direction,
		Confidence:     pred.Confidence,
		Strength:       pred.Strength,
		EntryPrice:     sample.Price,
		ExpectedProfit: targetDist * pv,
		MaxLoss:        stopDist * pv,
		WinProbability: pred.Confidence,
		Sample:         sample,
		Hour:           time.Now().Hour(),
	}
	switch pred.Direction {
	case market.Long:
		opp.StopPrice = sample.Price - stopDist
		opp.TargetPrice = sample.Price + targetDist
	case market.Short:
		opp.StopPrice = sample.Price + stopDist
		opp.TargetPrice = sample.Price - targetDist
	}
	return opp
}

// executeTrade dispatches a command and blocks until the platform confirms
// or the confirmation window elapses. A timeout is a failure, full stop: if
// the platform fills late anyway, the execution report path picks the
// position up.
func (c *Coordinator) executeTrade(cmd TradeCommand, manual bool) {
	log := c.log.WithFields(logrus.Fields{
		"trade_id":   cmd.TradeID,
		"instrument": cmd.Instrument,
		"action":     cmd.Action,
		"quantity":   cmd.Quantity,
	})

	confirm := make(chan protocol.TradeExecution, 1)
	c.mu.Lock()
	c.pending[cmd.TradeID] = &pendingTrade{cmd: cmd, confirm: confirm}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.TradeID)
		c.mu.Unlock()
	}()

	out := protocol.NewCommand(commandFor(cmd.Action), cmd.Instrument)
	out.TradeID = cmd.TradeID
	out.Quantity = float64(cmd.Quantity)
	out.Price = cmd.EntryPrice
	out.StopPrice = cmd.StopPrice
	out.TargetPrice = cmd.TargetPrice
	out.Reason = cmd.Reason

	if err := c.database.InsertTrade(c.ctx, db.TradeRecord{
		ID:          cmd.TradeID,
		Instrument:  cmd.Instrument,
		Action:      cmd.Action,
		Quantity:    float64(cmd.Quantity),
		EntryPrice:  cmd.EntryPrice,
		StopPrice:   cmd.StopPrice,
		TargetPrice: cmd.TargetPrice,
		Status:      string(StatusPending),
		Reason:      cmd.Reason,
	}); err != nil {
		log.WithError(err).Warn("could not record pending trade")
	}

	if c.gateway.Broadcast(out) == 0 {
		c.failTrade(cmd, "no confirmed platform connection")
		return
	}
	log.Info("trade command dispatched")

	select {
	case exec := <-confirm:
		if !isFilled(exec.Status) {
			c.failTrade(cmd, fmt.Sprintf("platform rejected trade: %s", exec.Status))
			return
		}
		c.confirmTrade(cmd, exec, manual)
	case <-time.After(c.cfg.ConfirmTimeout):
		c.failTrade(cmd, "confirmation timeout")
	case <-c.ctx.Done():
		c.failTrade(cmd, "shutdown before confirmation")
	}
}

func (c *Coordinator) confirmTrade(cmd TradeCommand, exec protocol.TradeExecution, manual bool) {
	fill := exec.FillPrice
	if fill == 0 {
		fill = cmd.EntryPrice
	}
	dir := market.ParseDirection(cmd.Action)

	pos, err := c.store.Update(c.ctx, cmd.Instrument, func(p state.Position) state.Position {
		p.Direction = dir
		p.Size = float64(cmd.Quantity)
		p.AvgPrice = fill
		p.StopPrice = cmd.StopPrice
		p.IsManual = manual
		p.EntryTime = time.Now()
		return p
	})
	if err != nil {
		c.log.WithError(err).Error("position update failed after fill")
	}

	if err := c.database.UpdateTradeStatus(c.ctx, cmd.TradeID, string(StatusExecuted), fill); err != nil {
		c.log.WithError(err).Warn("could not mark trade executed")
	}

	trade := &ExecutedTrade{
		TradeCommand:  cmd,
		FillPrice:     fill,
		ExecutionTime: time.Now(),
		Status:        StatusExecuted,
		priorRealized: pos.RealizedPnL,
	}
	c.mu.Lock()
	c.active[cmd.Instrument] = trade
	c.mu.Unlock()

	c.bus.Publish(events.EventTradeExecuted, trade)
	c.bus.Publish(events.EventPositionUpdate, pos)
	c.log.WithFields(logrus.Fields{
		"trade_id": cmd.TradeID, "fill": fill, "quantity": cmd.Quantity,
	}).Info("trade confirmed")

	c.startMonitor(trade)
}

func (c *Coordinator) failTrade(cmd TradeCommand, reason string) {
	if err := c.database.UpdateTradeStatus(c.ctx, cmd.TradeID, string(StatusFailed), 0); err != nil {
		c.log.WithError(err).Warn("could not mark trade failed")
	}
	c.bus.Publish(events.EventTradeFailed, map[string]any{
		"trade_id":   cmd.TradeID,
		"instrument": cmd.Instrument,
		"reason":     reason,
	})
	c.log.WithFields(logrus.Fields{
		"trade_id": cmd.TradeID, "reason": reason,
	}).Warn("trade failed")
}

// pointValue returns the dollar value of one price point, defaulting to 1
// until the platform registers the instrument.
func (c *Coordinator) pointValue(instrument string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pv, ok := c.pointValues[instrument]; ok && pv > 0 {
		return pv
	}
	return 1
}

func actionable(r ensemble.Recommendation) bool {
	return r == ensemble.ModerateSignal || r == ensemble.StrongSignal
}

func actionFor(d market.Direction) string {
	if d == market.Short {
		return "go_short"
	}
	return "go_long"
}

func commandFor(action string) string {
	if action == "go_short" {
		return protocol.CmdGoShort
	}
	return protocol.CmdGoLong
}

func isFilled(status string) bool {
	switch status {
	case "", "filled", "executed", "confirmed", "ok":
		return true
	}
	return false
}
