// Package reconcile drives convergence between the engine's position view
// and the broker's reported one under a bounded-retry protocol.
package reconcile

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"trading-bridge/internal/events"
	"trading-bridge/internal/market"
	"trading-bridge/internal/state"
	"trading-bridge/pkg/db"
	"trading-bridge/pkg/logger"
)

// Phase is the per-instrument reconciliation state.
type Phase string

const (
	InSync      Phase = "in_sync"
	Reconciling Phase = "reconciling"
	Failed      Phase = "failed"
)

const maxAttempts = 3

// BrokerReport is the broker's view of one instrument's position.
type BrokerReport struct {
	Instrument string
	Direction  market.Direction
	Size       float64
}

// Pusher sends the engine's position to the broker (the protocol gateway in
// production).
type Pusher interface {
	PushPosition(ctx context.Context, instrument string, dir market.Direction, size float64) error
}

// Event is the payload published on reconciliation outcomes.
type Event struct {
	Instrument string
	Attempts   int
	Local      BrokerReport
	Broker     BrokerReport
}

type instrumentState struct {
	phase      Phase
	attempts   int
	lastReport BrokerReport
	hasReport  bool
}

// Reconciler implements the per-instrument state machine
// InSync -> Reconciling(1..3) -> {InSync, Failed}. A Failed instrument stays
// halted until the next externally triggered update re-arms it.
type Reconciler struct {
	mu       sync.Mutex
	states   map[string]*instrumentState
	store    *state.Store
	pusher   Pusher
	bus      *events.Bus
	database *db.Database
	log      *logrus.Entry
}

// New creates a reconciler; database may be nil in tests.
func New(store *state.Store, pusher Pusher, bus *events.Bus, database *db.Database) *Reconciler {
	return &Reconciler{
		states:   make(map[string]*instrumentState),
		store:    store,
		pusher:   pusher,
		bus:      bus,
		database: database,
		log:      logger.Component("reconcile"),
	}
}

// Phase returns the current phase for an instrument.
func (r *Reconciler) Phase(instrument string) Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateFor(instrument).phase
}

// Attempts returns the current attempt counter for an instrument.
func (r *Reconciler) Attempts(instrument string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateFor(instrument).attempts
}

func (r *Reconciler) stateFor(instrument string) *instrumentState {
	s, ok := r.states[instrument]
	if !ok {
		s = &instrumentState{phase: InSync}
		r.states[instrument] = s
	}
	return s
}

// OnBrokerReport processes a fresh broker position report. A new external
// report re-arms a Failed instrument before comparing.
func (r *Reconciler) OnBrokerReport(ctx context.Context, report BrokerReport) {
	r.mu.Lock()
	s := r.stateFor(report.Instrument)
	s.lastReport = report
	s.hasReport = true
	if s.phase == Failed {
		s.phase = InSync
		s.attempts = 0
	}
	r.mu.Unlock()

	r.compare(ctx, report.Instrument)
}

// Check re-runs the comparison against the last known broker report. This is
// the monitor-loop entry point; a Failed instrument is left alone so a
// terminal failure never turns into a silent infinite retry.
func (r *Reconciler) Check(ctx context.Context, instrument string) {
	r.mu.Lock()
	s := r.stateFor(instrument)
	if !s.hasReport || s.phase == Failed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.compare(ctx, instrument)
}

func (r *Reconciler) compare(ctx context.Context, instrument string) {
	local := r.store.Position(instrument)

	r.mu.Lock()
	s := r.stateFor(instrument)
	report := s.lastReport

	if local.Direction == report.Direction && local.Size == report.Size {
		wasReconciling := s.phase == Reconciling
		attempts := s.attempts
		s.phase = InSync
		s.attempts = 0
		r.mu.Unlock()

		if wasReconciling {
			r.resolved(ctx, instrument, attempts, local, report)
		}
		return
	}

	// Discrepancy. Either start or continue reconciling.
	if s.attempts >= maxAttempts {
		s.phase = Failed
		attempts := s.attempts
		r.mu.Unlock()
		r.failed(ctx, instrument, attempts, local, report)
		return
	}

	s.phase = Reconciling
	s.attempts++
	attempts := s.attempts
	r.mu.Unlock()

	r.log.Warnf("position mismatch on %s: local %s/%.0f vs broker %s/%.0f (attempt %d/%d)",
		instrument, local.Direction, local.Size, report.Direction, report.Size, attempts, maxAttempts)

	if err := r.pusher.PushPosition(ctx, instrument, local.Direction, local.Size); err != nil {
		r.log.WithError(err).Warnf("position push for %s failed", instrument)
	}
}

func (r *Reconciler) resolved(ctx context.Context, instrument string, attempts int, local state.Position, report BrokerReport) {
	r.log.Infof("position on %s reconciled after %d attempts", instrument, attempts)
	if r.bus != nil {
		r.bus.Publish(events.EventPositionReconciled, Event{
			Instrument: instrument,
			Attempts:   attempts,
			Local:      BrokerReport{Instrument: instrument, Direction: local.Direction, Size: local.Size},
			Broker:     report,
		})
	}
	r.audit(ctx, instrument, "resolved", attempts, local, report)
}

func (r *Reconciler) failed(ctx context.Context, instrument string, attempts int, local state.Position, report BrokerReport) {
	r.log.Errorf("reconciliation on %s failed after %d attempts; halting until next external update", instrument, attempts)
	if r.bus != nil {
		r.bus.Publish(events.EventReconciliationFailed, Event{
			Instrument: instrument,
			Attempts:   attempts,
			Local:      BrokerReport{Instrument: instrument, Direction: local.Direction, Size: local.Size},
			Broker:     report,
		})
	}
	r.audit(ctx, instrument, "failed", attempts, local, report)
}

func (r *Reconciler) audit(ctx context.Context, instrument, outcome string, attempts int, local state.Position, report BrokerReport) {
	if r.database == nil {
		return
	}
	_ = r.database.InsertReconciliationEvent(ctx, db.ReconciliationEvent{
		Instrument:      instrument,
		Outcome:         outcome,
		Attempts:        attempts,
		LocalDirection:  string(local.Direction),
		LocalSize:       local.Size,
		BrokerDirection: string(report.Direction),
		BrokerSize:      report.Size,
	})
}
