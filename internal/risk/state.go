package risk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trading-bridge/pkg/db"
	"trading-bridge/pkg/logger"
)

// Limits are the hard daily guards.
type Limits struct {
	MaxDailyLoss         float64
	MaxDailyTrades       int
	MaxConsecutiveLosses int
	MinConfidence        float64 // floor of the adaptive threshold range
	MaxConfidence        float64 // ceiling of the adaptive threshold range
}

// DefaultLimits returns the stock limit set.
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLoss:         1000,
		MaxDailyTrades:       10,
		MaxConsecutiveLosses: 3,
		MinConfidence:        0.55,
		MaxConfidence:        0.85,
	}
}

// Milestone is one row of the threshold ratchet: once lifetime trade count
// reaches Trades, its config applies until the next row is crossed. Rows are
// ordered ascending and never re-evaluated backwards, so a threshold can
// not reverse within a milestone.
type Milestone struct {
	Trades              int
	ConfidenceThreshold float64
	MaxDailyTrades      int
}

// defaultMilestones tightens the confidence bar slowly as the system builds
// a live track record, and allows slightly more daily activity.
var defaultMilestones = []Milestone{
	{Trades: 0, ConfidenceThreshold: 0.65, MaxDailyTrades: 10},
	{Trades: 25, ConfidenceThreshold: 0.63, MaxDailyTrades: 12},
	{Trades: 75, ConfidenceThreshold: 0.60, MaxDailyTrades: 15},
	{Trades: 200, ConfidenceThreshold: 0.58, MaxDailyTrades: 20},
}

// State tracks the process-wide risk counters. Mutated only by the
// coordinator's trade-outcome path and the milestone evaluator.
type State struct {
	mu sync.RWMutex

	dailyPnL          float64
	dailyTrades       int
	consecutiveLosses int
	lifetimeTrades    int
	peakPnL           float64

	confidenceThreshold float64
	limits              Limits
	milestones          []Milestone
	milestoneIdx        int

	day      string
	database *db.Database
	log      *logrus.Entry
}

// NewState builds risk state with defaults, restoring today's counters from
// the DB when available.
func NewState(ctx context.Context, database *db.Database, limits Limits, threshold float64) *State {
	if threshold < limits.MinConfidence {
		threshold = limits.MinConfidence
	}
	if threshold > limits.MaxConfidence {
		threshold = limits.MaxConfidence
	}
	s := &State{
		confidenceThreshold: threshold,
		limits:              limits,
		milestones:          defaultMilestones,
		day:                 db.Today(time.Now()),
		database:            database,
		log:                 logger.Component("risk"),
	}

	if database != nil {
		if snap, err := database.LoadRiskSnapshot(ctx, s.day); err == nil {
			s.dailyPnL = snap.DailyPnL
			s.dailyTrades = snap.DailyTrades
			s.consecutiveLosses = snap.ConsecutiveLosses
			s.lifetimeTrades = snap.LifetimeTrades
			if snap.ConfidenceThreshold > 0 {
				s.confidenceThreshold = snap.ConfidenceThreshold
			}
		} else if !errors.Is(err, db.ErrNotFound) {
			s.log.Infof("risk snapshot load failed, starting clean: %v", err)
		}
	}
	s.milestoneIdx = s.currentMilestone()
	return s
}

func (s *State) currentMilestone() int {
	idx := 0
	for i, m := range s.milestones {
		if s.lifetimeTrades >= m.Trades {
			idx = i
		}
	}
	return idx
}

// ConfidenceThreshold returns the current adaptive threshold.
func (s *State) ConfidenceThreshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confidenceThreshold
}

// SetConfidenceThreshold applies an operator override, clamped to the
// configured range.
func (s *State) SetConfidenceThreshold(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < s.limits.MinConfidence {
		v = s.limits.MinConfidence
	}
	if v > s.limits.MaxConfidence {
		v = s.limits.MaxConfidence
	}
	s.confidenceThreshold = v
}

// Snapshot returns a copy of the counters for preflight checks and telemetry.
type Snapshot struct {
	DailyPnL            float64
	DailyTrades         int
	ConsecutiveLosses   int
	LifetimeTrades      int
	Drawdown            float64
	ConfidenceThreshold float64
	Limits              Limits
}

// Snapshot captures the current counters.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		DailyPnL:            s.dailyPnL,
		DailyTrades:         s.dailyTrades,
		ConsecutiveLosses:   s.consecutiveLosses,
		LifetimeTrades:      s.lifetimeTrades,
		Drawdown:            s.drawdownLocked(),
		ConfidenceThreshold: s.confidenceThreshold,
		Limits:              s.limits,
	}
}

func (s *State) drawdownLocked() float64 {
	if s.peakPnL <= 0 {
		return 0
	}
	return (s.peakPnL - s.dailyPnL) / s.peakPnL
}

// RecordTrade folds a realized trade outcome into the counters and runs the
// milestone evaluator when the lifetime count crosses a boundary.
func (s *State) RecordTrade(ctx context.Context, pnl float64) {
	s.mu.Lock()

	s.maybeRollDayLocked(time.Now())

	s.dailyTrades++
	s.lifetimeTrades++
	s.dailyPnL += pnl
	if s.dailyPnL > s.peakPnL {
		s.peakPnL = s.dailyPnL
	}
	if pnl < 0 {
		s.consecutiveLosses++
	} else {
		s.consecutiveLosses = 0
	}

	// Milestone evaluation triggers on trade-count boundaries, not wall clock.
	if next := s.currentMilestone(); next > s.milestoneIdx {
		m := s.milestones[next]
		s.milestoneIdx = next
		s.confidenceThreshold = clampRange(m.ConfidenceThreshold, s.limits.MinConfidence, s.limits.MaxConfidence)
		if m.MaxDailyTrades > 0 {
			s.limits.MaxDailyTrades = m.MaxDailyTrades
		}
		s.log.Infof("milestone reached at %d trades: threshold=%.2f maxDailyTrades=%d",
			m.Trades, s.confidenceThreshold, s.limits.MaxDailyTrades)
	}

	snap := s.snapshotRowLocked()
	s.mu.Unlock()

	if s.database != nil {
		_ = s.database.SaveRiskSnapshot(ctx, snap)
	}
}

// maybeRollDayLocked resets the daily counters when the calendar day changed.
func (s *State) maybeRollDayLocked(now time.Time) {
	today := db.Today(now)
	if today == s.day {
		return
	}
	s.day = today
	s.dailyPnL = 0
	s.dailyTrades = 0
	s.consecutiveLosses = 0
	s.peakPnL = 0
}

func (s *State) snapshotRowLocked() db.RiskSnapshot {
	return db.RiskSnapshot{
		Date:                s.day,
		DailyPnL:            s.dailyPnL,
		DailyTrades:         s.dailyTrades,
		ConsecutiveLosses:   s.consecutiveLosses,
		LifetimeTrades:      s.lifetimeTrades,
		ConfidenceThreshold: s.confidenceThreshold,
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
