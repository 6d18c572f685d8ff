package protocol

import (
	"encoding/json"
	"testing"
)

func TestSanitizeRepairsKnownArtifacts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "collection dump becomes empty array",
			in:   `{"type":"tick_data","values":System.Collections.Generic.List` + "`" + `1[System.Double],"price":21500}`,
			want: `{"type":"tick_data","values":[],"price":21500}`,
		},
		{
			name: "duplicate type keys collapse",
			in:   `{"type":"tick_data","type":"tick_data","price":21500}`,
			want: `{"type":"tick_data","price":21500}`,
		},
		{
			name: "trailing comma before closing brace",
			in:   `{"type":"tick_data","price":21500,}`,
			want: `{"type":"tick_data","price":21500}`,
		},
		{
			name: "trailing comma before closing bracket",
			in:   `{"type":"x","vals":[1,2,3,]}`,
			want: `{"type":"x","vals":[1,2,3]}`,
		},
		{
			name: "comma before brace inside a string value survives",
			in:   `{"type":"trade_execution","reason":"a,}"}`,
			want: `{"type":"trade_execution","reason":"a,}"}`,
		},
		{
			name: "comma before bracket inside a string value survives",
			in:   `{"type":"x","note":"v,]","vals":[1,2,]}`,
			want: `{"type":"x","note":"v,]","vals":[1,2]}`,
		},
		{
			name: "escaped quote does not end the string",
			in:   `{"type":"x","note":"say \",}\" here"}`,
			want: `{"type":"x","note":"say \",}\" here"}`,
		},
		{
			name: "surrounding whitespace trimmed",
			in:   "  {\"type\":\"heartbeat\"}\r",
			want: `{"type":"heartbeat"}`,
		},
		{
			name: "empty line stays empty",
			in:   "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			if got != tt.want {
				t.Fatalf("Sanitize(%q)=%q, expected %q", tt.in, got, tt.want)
			}
			if got != "" && !json.Valid([]byte(got)) {
				t.Fatalf("sanitized output is not valid JSON: %q", got)
			}
		})
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	lines := []string{
		`{"type":"tick_data","instrument":"NQ","price":21500.25,"atr":12.75}`,
		`{"type":"strategy_status","direction":"LONG","size":2}`,
		`{"type":"tick_data","values":System.Collections.Generic.List` + "`" + `1[System.Double],"price":1,}`,
		`{"type":"a","type":"a","x":[1,2,]}`,
	}

	for _, line := range lines {
		once := Sanitize(line)
		twice := Sanitize(once)
		if once != twice {
			t.Fatalf("not idempotent:\n once: %q\ntwice: %q", once, twice)
		}
	}
}

func TestSanitizeLeavesCleanJSONUntouched(t *testing.T) {
	cleanLines := []string{
		`{"type":"trade_execution","trade_id":"abc","fill_price":21501.5,"status":"filled"}`,
		`{"type":"trade_execution","reason":"stop,} hit"}`,
		`{"type":"tick_data","note":"tail ,]","price":1}`,
	}
	for _, clean := range cleanLines {
		if got := Sanitize(clean); got != clean {
			t.Fatalf("clean line modified: %q -> %q", clean, got)
		}
	}
}
