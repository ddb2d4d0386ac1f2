package oracle_test

import (
	"math/big"
	"testing"

	"LendLedger/internal/oracle"
)

func TestStaticSetAndGet(t *testing.T) {
	src := oracle.NewStatic()
	src.SetUSD("dai-usd", 1)

	p, err := src.Price("dai-usd")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if want := big.NewInt(100_000_000); p.Value.Cmp(want) != 0 {
		t.Errorf("price value = %s, want %s", p.Value, want)
	}
}

func TestStaticUnknownRef(t *testing.T) {
	src := oracle.NewStatic()
	if _, err := src.Price("nope"); err == nil {
		t.Error("Price for unknown ref: want error, got nil")
	}
}

func TestStaticReturnsCopies(t *testing.T) {
	src := oracle.NewStatic()
	src.SetUSD("weth-usd", 2_000)
	p, err := src.Price("weth-usd")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	p.Value.SetInt64(0)

	again, err := src.Price("weth-usd")
	if err != nil {
		t.Fatalf("Price returned error: %v", err)
	}
	if again.Value.Sign() == 0 {
		t.Error("caller mutation leaked into oracle storage")
	}
}

func TestNormalized(t *testing.T) {
	cases := []struct {
		name     string
		value    int64
		decimals uint8
		want     int64
	}{
		{"already canonical", 100_000_000, 8, 100_000_000},
		{"scales up", 100, 2, 100_000_000},
		{"scales down", 1_000_000_000_000, 12, 100_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := oracle.Price{Value: big.NewInt(tc.value), Decimals: tc.decimals}
			if got := p.Normalized(); got.Int64() != tc.want {
				t.Errorf("Normalized() = %s, want %d", got, tc.want)
			}
		})
	}
}
