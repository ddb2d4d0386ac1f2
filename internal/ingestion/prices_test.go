package ingestion

import (
	"math/big"
	"testing"
)

func TestParsePriceQuote(t *testing.T) {
	quote, err := parsePriceQuote([]byte(`{"oracle_ref":"weth-usd","value":250000000000,"decimals":8}`))
	if err != nil {
		t.Fatalf("parsePriceQuote: %v", err)
	}
	if quote.OracleRef != "weth-usd" {
		t.Errorf("OracleRef = %q, want %q", quote.OracleRef, "weth-usd")
	}
	if want := big.NewInt(250_000_000_000); quote.Value.Cmp(want) != 0 {
		t.Errorf("Value = %s, want %s", quote.Value, want)
	}
	if quote.Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", quote.Decimals)
	}
}

func TestParsePriceQuoteRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{`},
		{"missing ref", `{"value":100,"decimals":8}`},
		{"zero value", `{"oracle_ref":"weth-usd","value":0,"decimals":8}`},
		{"negative value", `{"oracle_ref":"weth-usd","value":-5,"decimals":8}`},
		{"null value", `{"oracle_ref":"weth-usd","decimals":8}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parsePriceQuote([]byte(tc.data)); err == nil {
				t.Errorf("parsePriceQuote(%q) succeeded, want error", tc.data)
			}
		})
	}
}
