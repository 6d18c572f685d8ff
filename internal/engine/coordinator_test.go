package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

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
)

// stallPredictor simulates a model whose inference takes real time.
type stallPredictor struct {
	delay time.Duration
	done  chan struct{}
}

func (p *stallPredictor) Name() string { return "stall" }
func (p *stallPredictor) Ready() bool  { return true }

func (p *stallPredictor) Predict(ctx context.Context, _ market.Sample) (ensemble.ModelOutput, error) {
	time.Sleep(p.delay)
	select {
	case p.done <- struct{}{}:
	default:
	}
	return ensemble.SignedDirection{Direction: market.Long, Confidence: 0.8}, nil
}

func newTestCoordinator(t *testing.T, preds ...ensemble.Predictor) *Coordinator {
	t.Helper()

	bus := events.NewBus()
	store := state.NewStore(nil)
	gw := protocol.NewGateway(protocol.DefaultConfig("127.0.0.1:0"), bus)

	ens := ensemble.New(ensemble.NewStabilizer(ensemble.SystemClock(), 0, 0), nil)
	for _, p := range preds {
		ens.Register(p)
	}

	settings, err := config.NewSettingsStore(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}

	coord := New(Config{
		ConfirmTimeout:  100 * time.Millisecond,
		MonitorInterval: time.Hour,
		Sizing:          risk.DefaultSizingConfig(50000),
	}, gw, ens, risk.NewPipeline(risk.DefaultPipelineConfig()),
		risk.NewState(context.Background(), nil, risk.DefaultLimits(), 0.65),
		trailing.NewEngine(), reconcile.New(store, NewGatewayPusher(gw), bus, nil),
		store, cache.NewShardedSampleCache(), indicators.NewEngine(9, 21, 14, 14, 200),
		settings, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	coord.ctx, coord.cancel = ctx, cancel
	t.Cleanup(func() {
		cancel()
		coord.wg.Wait()
	})
	return coord
}

func TestPredictionRequestDoesNotBlockDispatch(t *testing.T) {
	done := make(chan struct{}, 1)
	coord := newTestCoordinator(t, &stallPredictor{delay: 300 * time.Millisecond, done: done})

	coord.samples.Set(market.Sample{
		Instrument: "MNQ",
		Price:      21500,
		ATR:        12.5,
		Timestamp:  time.Now(),
	})

	msg := protocol.Inbound{
		ConnID: "conn-1",
		Type:   protocol.MsgPredictionRequest,
		Data:   json.RawMessage(`{"instrument":"MNQ"}`),
	}

	// Dispatch calls handlers on the connection's read goroutine; a slow
	// model must not hold it for the duration of inference.
	start := time.Now()
	coord.handlePredictionRequest(msg)
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("handler held the dispatch goroutine for %v", elapsed)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prediction never ran in the background")
	}
}

func TestTrailingRequestReturnsImmediately(t *testing.T) {
	coord := newTestCoordinator(t)

	msg := protocol.Inbound{
		Type: protocol.MsgSmartTrailingRequest,
		Data: json.RawMessage(`{"instrument":"MNQ"}`),
	}
	start := time.Now()
	coord.handleTrailingRequest(msg)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("handler held the dispatch goroutine for %v", elapsed)
	}
}

func TestCompleteTradeIgnoresRealizedHistory(t *testing.T) {
	coord := newTestCoordinator(t)

	// Instrument carrying realized PnL from earlier sessions, currently flat.
	if _, err := coord.store.Update(coord.ctx, "MNQ", func(p state.Position) state.Position {
		p.RealizedPnL = 500
		return p
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	completed, unsub := coord.bus.Subscribe(events.EventTradeCompleted, 1)
	defer unsub()

	coord.active["MNQ"] = &ExecutedTrade{
		TradeCommand:  TradeCommand{TradeID: "t1", Instrument: "MNQ", Action: "go_long", Quantity: 1},
		Status:        StatusExecuted,
		priorRealized: 500,
	}

	coord.completeTrade("MNQ", 0, "position flat")

	select {
	case payload := <-completed:
		m := payload.(map[string]any)
		if pnl := m["pnl"].(float64); pnl != 0 {
			t.Fatalf("reported pnl = %v, history must not count as this trade's outcome", pnl)
		}
	case <-time.After(time.Second):
		t.Fatal("no completion event")
	}

	snap := coord.riskState.Snapshot()
	if snap.DailyPnL != 0 {
		t.Fatalf("DailyPnL = %v, want 0", snap.DailyPnL)
	}
	if snap.DailyTrades != 1 {
		t.Fatalf("DailyTrades = %d, want 1", snap.DailyTrades)
	}
}

func TestCompleteTradeRealizesExitDelta(t *testing.T) {
	coord := newTestCoordinator(t)

	if _, err := coord.store.Update(coord.ctx, "MNQ", func(p state.Position) state.Position {
		p.Direction = market.Long
		p.Size = 2
		p.AvgPrice = 21500
		p.RealizedPnL = 500
		return p
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	coord.active["MNQ"] = &ExecutedTrade{
		TradeCommand:  TradeCommand{TradeID: "t2", Instrument: "MNQ", Action: "go_long", Quantity: 2},
		FillPrice:     21500,
		Status:        StatusExecuted,
		priorRealized: 500,
	}

	coord.completeTrade("MNQ", 21510, "target hit")

	pos := coord.store.Position("MNQ")
	if !pos.IsFlat() {
		t.Fatal("position should be flat after completion")
	}
	if pos.RealizedPnL != 520 {
		t.Fatalf("RealizedPnL = %v, want 520", pos.RealizedPnL)
	}
	if snap := coord.riskState.Snapshot(); snap.DailyPnL != 20 {
		t.Fatalf("DailyPnL = %v, want only this trade's 20", snap.DailyPnL)
	}
}

func TestCompleteTradeIsIdempotent(t *testing.T) {
	coord := newTestCoordinator(t)

	if _, err := coord.store.Update(coord.ctx, "MNQ", func(p state.Position) state.Position {
		p.Direction = market.Long
		p.Size = 1
		p.AvgPrice = 21500
		return p
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	coord.active["MNQ"] = &ExecutedTrade{
		TradeCommand: TradeCommand{TradeID: "t3", Instrument: "MNQ", Action: "go_long", Quantity: 1},
		Status:       StatusExecuted,
	}

	coord.completeTrade("MNQ", 21505, "stop hit")
	coord.completeTrade("MNQ", 21505, "stop hit")

	if snap := coord.riskState.Snapshot(); snap.DailyTrades != 1 {
		t.Fatalf("DailyTrades = %d, completion must record exactly once", snap.DailyTrades)
	}
}
