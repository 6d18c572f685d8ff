package state

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"trading-bridge/internal/market"
	"trading-bridge/pkg/db"
)

func TestNormalizeFlatInvariant(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
	}{
		{"zero size with direction", Position{Instrument: "NQ", Direction: market.Long, Size: 0, AvgPrice: 21500, StopPrice: 21480}},
		{"flat direction with size", Position{Instrument: "NQ", Direction: market.Flat, Size: 3, AvgPrice: 21500}},
		{"negative size", Position{Instrument: "NQ", Direction: market.Short, Size: -1, AvgPrice: 21500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.pos
			p.Normalize()

			if (p.Size == 0) != (p.Direction == market.Flat) {
				t.Fatalf("invariant broken: size=%v direction=%v", p.Size, p.Direction)
			}
			if !p.IsFlat() {
				t.Fatalf("expected flat after normalizing %+v", tt.pos)
			}
			if p.AvgPrice != 0 || p.StopPrice != 0 {
				t.Fatalf("flat position retains price fields: %+v", p)
			}
		})
	}
}

func TestMarkPrice(t *testing.T) {
	tests := []struct {
		name    string
		pos     Position
		price   float64
		wantPnL float64
	}{
		{"long gain", Position{Direction: market.Long, Size: 2, AvgPrice: 21500}, 21510, 40},
		{"long loss", Position{Direction: market.Long, Size: 1, AvgPrice: 21500}, 21490, -20},
		{"short gain", Position{Direction: market.Short, Size: 1, AvgPrice: 21500}, 21490, 20},
		{"flat stays zero", Position{Direction: market.Flat}, 21500, 0},
	}

	const pointValue = 2.0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.pos
			p.MarkPrice(tt.price, pointValue)
			if math.Abs(p.UnrealizedPnL-tt.wantPnL) > 1e-9 {
				t.Fatalf("UnrealizedPnL=%v, expected %v", p.UnrealizedPnL, tt.wantPnL)
			}
		})
	}
}

func TestStoreUpdateNormalizesAndPersists(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := NewStore(database)
	ctx := context.Background()

	got, err := store.Update(ctx, "NQ", func(p Position) Position {
		p.Direction = market.Long
		p.Size = 2
		p.AvgPrice = 21500
		p.StopPrice = 21480
		return p
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Direction != market.Long || got.Size != 2 {
		t.Fatalf("unexpected position after update: %+v", got)
	}

	// A fresh store loading from the same DB must see the position.
	reloaded := NewStore(database)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := reloaded.Position("NQ")
	if p.Direction != market.Long || p.Size != 2 || p.AvgPrice != 21500 {
		t.Fatalf("reloaded position lost data: %+v", p)
	}

	// Flattening through Update must scrub derived fields.
	got, err = store.Update(ctx, "NQ", func(p Position) Position {
		p.Size = 0
		return p
	})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if !got.IsFlat() || got.Direction != market.Flat || got.StopPrice != 0 {
		t.Fatalf("flatten did not normalize: %+v", got)
	}
}

func TestStoreResetDiscardsPosition(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	_, err := store.Update(ctx, "NQ", func(p Position) Position {
		p.Direction = market.Short
		p.Size = 1
		p.AvgPrice = 21500
		return p
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := store.Reset(ctx, "NQ"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if p := store.Position("NQ"); !p.IsFlat() {
		t.Fatalf("position survives reset: %+v", p)
	}
}

func TestUnknownInstrumentReadsFlat(t *testing.T) {
	store := NewStore(nil)
	p := store.Position("UNSEEN")
	if !p.IsFlat() {
		t.Fatalf("unknown instrument not flat: %+v", p)
	}
	if p.Instrument != "UNSEEN" {
		t.Fatalf("Instrument=%q, expected UNSEEN", p.Instrument)
	}
}
