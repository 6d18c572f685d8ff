package engine

import (
	"testing"

	"trading-bridge/internal/market"
	"trading-bridge/internal/state"
)

func TestRealizedPnL(t *testing.T) {
	cases := []struct {
		name       string
		pos        state.Position
		exitPrice  float64
		pointValue float64
		want       float64
	}{
		{
			name:       "long gain",
			pos:        state.Position{Direction: market.Long, Size: 2, AvgPrice: 21500},
			exitPrice:  21510,
			pointValue: 2,
			want:       40,
		},
		{
			name:       "long loss",
			pos:        state.Position{Direction: market.Long, Size: 1, AvgPrice: 21500},
			exitPrice:  21490,
			pointValue: 2,
			want:       -20,
		},
		{
			name:       "short gain",
			pos:        state.Position{Direction: market.Short, Size: 3, AvgPrice: 21500},
			exitPrice:  21495,
			pointValue: 2,
			want:       30,
		},
		{
			name:       "short loss",
			pos:        state.Position{Direction: market.Short, Size: 1, AvgPrice: 21500},
			exitPrice:  21505,
			pointValue: 2,
			want:       -10,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := realizedPnL(tc.pos, tc.exitPrice, tc.pointValue); got != tc.want {
				t.Fatalf("realizedPnL = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestActionDirectionRoundTrip(t *testing.T) {
	if actionFor(market.Long) != "go_long" || actionFor(market.Short) != "go_short" {
		t.Fatal("actionFor mapping broken")
	}
	if market.ParseDirection(actionFor(market.Long)) != market.Long {
		t.Fatal("go_long must parse back to Long")
	}
	if market.ParseDirection(actionFor(market.Short)) != market.Short {
		t.Fatal("go_short must parse back to Short")
	}
}

func TestIsFilled(t *testing.T) {
	for _, status := range []string{"", "filled", "executed", "confirmed", "ok"} {
		if !isFilled(status) {
			t.Errorf("isFilled(%q) = false, want true", status)
		}
	}
	for _, status := range []string{"rejected", "cancelled", "error"} {
		if isFilled(status) {
			t.Errorf("isFilled(%q) = true, want false", status)
		}
	}
}

func TestIsExit(t *testing.T) {
	for _, action := range []string{"exit", "CLOSE", "Flatten", "stop_hit", "target_hit"} {
		if !isExit(action) {
			t.Errorf("isExit(%q) = false, want true", action)
		}
	}
	if isExit("go_long") || isExit("") {
		t.Error("entry actions must not read as exits")
	}
}

func TestOpposesOpen(t *testing.T) {
	long := state.Position{Instrument: "MNQ", Direction: market.Long, Size: 1, AvgPrice: 21500}
	flat := state.Position{Instrument: "MNQ", Direction: market.Flat}

	if !opposesOpen(long, "go_short") {
		t.Error("go_short against a long position should oppose")
	}
	if !opposesOpen(long, "SELL") {
		t.Error("SELL against a long position should oppose")
	}
	if opposesOpen(long, "go_long") {
		t.Error("same-direction action must not oppose")
	}
	if opposesOpen(long, "unknown") {
		t.Error("unparseable action must not oppose")
	}
	if opposesOpen(flat, "go_short") {
		t.Error("nothing opposes a flat position")
	}
}
