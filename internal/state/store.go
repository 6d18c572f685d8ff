// Package state owns the per-instrument position arena. All position
// mutation flows through Store so the locking discipline lives in one place:
// writers for the same instrument serialize, readers proceed freely.
package state

import (
	"context"
	"sync"

	"trading-bridge/internal/market"
	"trading-bridge/pkg/db"
)

// Store keeps the in-memory view of positions while persisting to the DB
// for durability.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	db      *db.Database
}

type entry struct {
	mu  sync.RWMutex
	pos Position
}

// NewStore creates a position store; database may be nil in tests.
func NewStore(database *db.Database) *Store {
	return &Store{
		entries: make(map[string]*entry),
		db:      database,
	}
}

// Load seeds in-memory state from the DB on startup.
func (s *Store) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	rows, err := s.db.ListPositions(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		p := Position{
			Instrument:  r.Instrument,
			Direction:   market.ParseDirection(r.Direction),
			Size:        r.Size,
			AvgPrice:    r.AvgPrice,
			RealizedPnL: r.RealizedPnL,
			StopPrice:   r.StopPrice,
			IsManual:    r.IsManual,
			EntryTime:   r.EntryTime,
		}
		p.Normalize()
		s.entries[r.Instrument] = &entry{pos: p}
	}
	return nil
}

func (s *Store) entryFor(instrument string) *entry {
	s.mu.RLock()
	e, ok := s.entries[instrument]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[instrument]; ok {
		return e
	}
	e = &entry{pos: Position{Instrument: instrument, Direction: market.Flat}}
	s.entries[instrument] = e
	return e
}

// Position returns the latest snapshot for an instrument.
func (s *Store) Position(instrument string) Position {
	e := s.entryFor(instrument)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pos
}

// Positions returns a snapshot of all positions.
func (s *Store) Positions() []Position {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Position, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, e.pos)
		e.mu.RUnlock()
	}
	return out
}

// Update applies fn to the instrument's position under its write lock and
// persists the result. fn receives the current value and returns the new one.
func (s *Store) Update(ctx context.Context, instrument string, fn func(Position) Position) (Position, error) {
	e := s.entryFor(instrument)
	e.mu.Lock()
	p := fn(e.pos)
	p.Instrument = instrument
	p.Normalize()
	e.pos = p
	e.mu.Unlock()

	if err := s.persist(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// Reset discards the instrument's position entirely (manual override path).
func (s *Store) Reset(ctx context.Context, instrument string) error {
	e := s.entryFor(instrument)
	e.mu.Lock()
	e.pos = Position{Instrument: instrument, Direction: market.Flat}
	e.mu.Unlock()

	if s.db == nil {
		return nil
	}
	return s.db.DeletePosition(ctx, instrument)
}

func (s *Store) persist(ctx context.Context, p Position) error {
	if s.db == nil {
		return nil
	}
	return s.db.UpsertPosition(ctx, db.Position{
		Instrument:  p.Instrument,
		Direction:   string(p.Direction),
		Size:        p.Size,
		AvgPrice:    p.AvgPrice,
		RealizedPnL: p.RealizedPnL,
		StopPrice:   p.StopPrice,
		IsManual:    p.IsManual,
		EntryTime:   p.EntryTime,
	})
}
