package risk

import (
	"context"
	"testing"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	return NewState(context.Background(), nil, DefaultLimits(), 0.65)
}

func TestStateThresholdClampedToLimits(t *testing.T) {
	s := NewState(context.Background(), nil, DefaultLimits(), 0.95)
	if got := s.ConfidenceThreshold(); got != 0.85 {
		t.Fatalf("threshold = %v, want ceiling 0.85", got)
	}
	s.SetConfidenceThreshold(0.10)
	if got := s.ConfidenceThreshold(); got != 0.55 {
		t.Fatalf("threshold = %v, want floor 0.55", got)
	}
	s.SetConfidenceThreshold(0.70)
	if got := s.ConfidenceThreshold(); got != 0.70 {
		t.Fatalf("threshold = %v, want 0.70", got)
	}
}

func TestRecordTradeCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	s.RecordTrade(ctx, 120)
	s.RecordTrade(ctx, -40)
	s.RecordTrade(ctx, -30)

	snap := s.Snapshot()
	if snap.DailyTrades != 3 {
		t.Fatalf("DailyTrades = %d, want 3", snap.DailyTrades)
	}
	if snap.DailyPnL != 50 {
		t.Fatalf("DailyPnL = %v, want 50", snap.DailyPnL)
	}
	if snap.ConsecutiveLosses != 2 {
		t.Fatalf("ConsecutiveLosses = %d, want 2", snap.ConsecutiveLosses)
	}

	// A winner resets the loss streak.
	s.RecordTrade(ctx, 10)
	if got := s.Snapshot().ConsecutiveLosses; got != 0 {
		t.Fatalf("ConsecutiveLosses after win = %d, want 0", got)
	}
}

func TestDrawdownFromPeak(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	s.RecordTrade(ctx, 200) // peak 200
	s.RecordTrade(ctx, -50) // pnl 150

	snap := s.Snapshot()
	if snap.Drawdown != 0.25 {
		t.Fatalf("Drawdown = %v, want 0.25", snap.Drawdown)
	}
}

func TestDrawdownZeroWithoutProfitPeak(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	s.RecordTrade(ctx, -100)
	if got := s.Snapshot().Drawdown; got != 0 {
		t.Fatalf("Drawdown = %v, want 0 when never in profit", got)
	}
}

func TestMilestoneLoosensThresholdAtBoundary(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	for i := 0; i < 24; i++ {
		s.RecordTrade(ctx, 1)
	}
	if got := s.ConfidenceThreshold(); got != 0.65 {
		t.Fatalf("threshold before milestone = %v, want 0.65", got)
	}

	// Trade 25 crosses the first milestone.
	s.RecordTrade(ctx, 1)
	snap := s.Snapshot()
	if snap.ConfidenceThreshold != 0.63 {
		t.Fatalf("threshold at 25 trades = %v, want 0.63", snap.ConfidenceThreshold)
	}
	if snap.Limits.MaxDailyTrades != 12 {
		t.Fatalf("MaxDailyTrades at 25 trades = %d, want 12", snap.Limits.MaxDailyTrades)
	}
	if snap.LifetimeTrades != 25 {
		t.Fatalf("LifetimeTrades = %d, want 25", snap.LifetimeTrades)
	}
}

func TestMilestoneAppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestState(t)

	for i := 0; i < 30; i++ {
		s.RecordTrade(ctx, 1)
	}
	// An operator override after the milestone must stick; the milestone
	// never re-fires for trades inside the same band.
	s.SetConfidenceThreshold(0.80)
	s.RecordTrade(ctx, 1)
	if got := s.ConfidenceThreshold(); got != 0.80 {
		t.Fatalf("threshold = %v, override should survive within a milestone band", got)
	}
}
