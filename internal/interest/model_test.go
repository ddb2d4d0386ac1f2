package interest_test

import (
	"math/big"
	"testing"

	"LendLedger/internal/interest"
	fpmath "LendLedger/internal/math"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Wad)
}

func TestFixedModelIgnoresUtilisation(t *testing.T) {
	m := interest.NewFixedModelBps(500)
	idle := m.BorrowAPR(big.NewInt(0), wad(100))
	busy := m.BorrowAPR(wad(90), wad(100))
	if idle.Cmp(busy) != 0 {
		t.Errorf("fixed model rate varies with utilisation: %s vs %s", idle, busy)
	}
	if want := big.NewRat(5, 100); idle.Cmp(want) != 0 {
		t.Errorf("BorrowAPR = %s, want %s", idle, want)
	}
}

func TestKinkedModelBelowKink(t *testing.T) {
	m := interest.NewKinkedModelBps(200, 1_500, 6_000, 8_000)
	// 40% utilisation: 2% + 15%*0.4 = 8%.
	apr := m.BorrowAPR(wad(40), wad(100))
	if want := big.NewRat(8, 100); apr.Cmp(want) != 0 {
		t.Errorf("BorrowAPR at 40%% utilisation = %s, want %s", apr, want)
	}
}

func TestKinkedModelAboveKink(t *testing.T) {
	m := interest.NewKinkedModelBps(200, 1_500, 6_000, 8_000)
	// 90% utilisation: 2% + 15%*0.8 + 60%*0.1 = 20%.
	apr := m.BorrowAPR(wad(90), wad(100))
	if want := big.NewRat(20, 100); apr.Cmp(want) != 0 {
		t.Errorf("BorrowAPR at 90%% utilisation = %s, want %s", apr, want)
	}
}

func TestUtilisationEmptyPool(t *testing.T) {
	if u := interest.Utilisation(big.NewInt(0), big.NewInt(0)); u.Sign() != 0 {
		t.Errorf("Utilisation of empty pool = %s, want 0", u)
	}
}

func TestFactorOneYear(t *testing.T) {
	apr := big.NewRat(5, 100)
	factor := interest.Factor(apr, interest.SecondsPerYear)
	// 1.05 in WAD terms.
	want := new(big.Int).Add(fpmath.Wad, new(big.Int).Div(fpmath.Wad, big.NewInt(20)))
	if factor.Cmp(want) != 0 {
		t.Errorf("Factor(5%%, 1y) = %s, want %s", factor, want)
	}
}

func TestFactorZeroElapsed(t *testing.T) {
	factor := interest.Factor(big.NewRat(1, 10), 0)
	if factor.Cmp(fpmath.Wad) != 0 {
		t.Errorf("Factor with zero elapsed = %s, want %s", factor, fpmath.Wad)
	}
}

func TestFactorNeverBelowOne(t *testing.T) {
	factor := interest.Factor(new(big.Rat), interest.SecondsPerYear)
	if factor.Cmp(fpmath.Wad) != 0 {
		t.Errorf("Factor with zero rate = %s, want %s", factor, fpmath.Wad)
	}
}
