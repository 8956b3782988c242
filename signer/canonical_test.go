package signer

import (
	"reflect"
	"testing"
	"time"
)

var testTime = time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)

func TestBuildCanonical(t *testing.T) {
	got := BuildCanonical("BTCUSD", 68867.5, "USD", 2, testTime, "890123",
		[]string{"kraken", "coinbase", "kraken", "bitstamp"}, "median")
	want := "v1|BTCUSD|68867.50|USD|2|2026-08-24T15:00:00Z|890123|bitstamp,coinbase,kraken|median"
	if got != want {
		t.Errorf("canonical = %q, want %q", got, want)
	}
}

func TestBuildCanonicalPriceFormatting(t *testing.T) {
	tests := []struct {
		price    float64
		decimals int
		want     string
	}{
		{68867.5, 2, "68867.50"},
		{1.08123, 5, "1.08123"},
		{100, 2, "100.00"},
	}
	for _, tt := range tests {
		c := BuildCanonical("X", tt.price, "USD", tt.decimals, testTime, "0", []string{"a"}, "median")
		parsed, err := ParseCanonical(c)
		if err != nil {
			t.Fatalf("ParseCanonical(%q): %v", c, err)
		}
		if parsed.Price != tt.want {
			t.Errorf("price field = %q, want %q", parsed.Price, tt.want)
		}
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	original := BuildCanonical("XAUUSD", 2412.35, "USD", 2, testTime, "912345",
		[]string{"kitco", "kraken", "gemini"}, "median")

	parsed, err := ParseCanonical(original)
	if err != nil {
		t.Fatalf("ParseCanonical: %v", err)
	}
	if rebuilt := parsed.String(); rebuilt != original {
		t.Errorf("round trip changed bytes:\n got %q\nwant %q", rebuilt, original)
	}
	if want := []string{"gemini", "kitco", "kraken"}; !reflect.DeepEqual(parsed.Sources, want) {
		t.Errorf("sources = %v, want %v", parsed.Sources, want)
	}
}

func TestParseCanonicalRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few fields", "v1|BTCUSD|1.00|USD|2"},
		{"wrong version", "v2|BTCUSD|1.00|USD|2|2026-08-24T15:00:00Z|0|a|median"},
		{"bad decimals", "v1|BTCUSD|1.00|USD|x|2026-08-24T15:00:00Z|0|a|median"},
		{"bad price", "v1|BTCUSD|abc|USD|2|2026-08-24T15:00:00Z|0|a|median"},
		{"bad timestamp", "v1|BTCUSD|1.00|USD|2|yesterday|0|a|median"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCanonical(tt.input); err == nil {
				t.Errorf("ParseCanonical(%q) succeeded, want error", tt.input)
			}
		})
	}
}
