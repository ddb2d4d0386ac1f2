package registry_test

import (
	"math/big"
	"testing"

	"LendLedger/internal/interest"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/registry"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Wad)
}

func newAsset(t *testing.T, nowUnix int64) *registry.Asset {
	t.Helper()
	return registry.NewAsset("DAI", "dai-usd", 8_000, interest.NewFixedModelBps(500), nowUnix)
}

func TestAccrueNoDebtOnlyStampsTime(t *testing.T) {
	a := newAsset(t, 1_000)
	a.TotalDeposits = wad(100)

	if err := a.Accrue(2_000); err != nil {
		t.Fatalf("Accrue returned error: %v", err)
	}
	if a.BorrowIndex.Cmp(fpmath.Wad) != 0 {
		t.Errorf("index moved with no borrows: %s", a.BorrowIndex)
	}
	if a.LastAccrualUnix != 2_000 {
		t.Errorf("LastAccrualUnix = %d, want 2000", a.LastAccrualUnix)
	}
}

func TestAccrueGrowsIndexMonotonically(t *testing.T) {
	a := newAsset(t, 0)
	a.TotalDeposits = wad(100)
	a.TotalBorrowShares = wad(50)

	if err := a.Accrue(interest.SecondsPerYear); err != nil {
		t.Fatalf("Accrue returned error: %v", err)
	}
	// 5% APR over a year: index 1.05e18.
	want := new(big.Int).Add(fpmath.Wad, new(big.Int).Div(fpmath.Wad, big.NewInt(20)))
	if a.BorrowIndex.Cmp(want) != 0 {
		t.Errorf("index after one year = %s, want %s", a.BorrowIndex, want)
	}
}

func TestAccrueSameTimestampIsIdempotent(t *testing.T) {
	a := newAsset(t, 0)
	a.TotalDeposits = wad(100)
	a.TotalBorrowShares = wad(50)

	if err := a.Accrue(3_600); err != nil {
		t.Fatalf("first Accrue returned error: %v", err)
	}
	indexAfterFirst := fpmath.Clone(a.BorrowIndex)
	if err := a.Accrue(3_600); err != nil {
		t.Fatalf("second Accrue returned error: %v", err)
	}
	if a.BorrowIndex.Cmp(indexAfterFirst) != 0 {
		t.Errorf("second accrual at same timestamp moved index: %s -> %s", indexAfterFirst, a.BorrowIndex)
	}
}

func TestAccrueIgnoresClockGoingBackwards(t *testing.T) {
	a := newAsset(t, 5_000)
	a.TotalDeposits = wad(100)
	a.TotalBorrowShares = wad(50)

	if err := a.Accrue(4_000); err != nil {
		t.Fatalf("Accrue returned error: %v", err)
	}
	if a.BorrowIndex.Cmp(fpmath.Wad) != 0 {
		t.Errorf("index moved on backwards clock: %s", a.BorrowIndex)
	}
	if a.LastAccrualUnix != 5_000 {
		t.Errorf("LastAccrualUnix = %d, want unchanged 5000", a.LastAccrualUnix)
	}
}

func TestProjectedIndexDoesNotMutate(t *testing.T) {
	a := newAsset(t, 0)
	a.TotalDeposits = wad(100)
	a.TotalBorrowShares = wad(50)

	projected, err := a.ProjectedIndex(interest.SecondsPerYear)
	if err != nil {
		t.Fatalf("ProjectedIndex returned error: %v", err)
	}
	if projected.Cmp(fpmath.Wad) <= 0 {
		t.Errorf("projected index = %s, want > 1e18", projected)
	}
	if a.BorrowIndex.Cmp(fpmath.Wad) != 0 {
		t.Errorf("ProjectedIndex mutated stored index: %s", a.BorrowIndex)
	}
	if a.LastAccrualUnix != 0 {
		t.Errorf("ProjectedIndex mutated accrual time: %d", a.LastAccrualUnix)
	}
}

func TestAvailableLiquidity(t *testing.T) {
	a := newAsset(t, 0)
	a.TotalDeposits = wad(100)
	a.TotalBorrowShares = wad(30)

	avail, err := a.AvailableLiquidity()
	if err != nil {
		t.Fatalf("AvailableLiquidity returned error: %v", err)
	}
	if avail.Cmp(wad(70)) != 0 {
		t.Errorf("available liquidity = %s, want %s", avail, wad(70))
	}
}

func TestRegistrySymbolsSorted(t *testing.T) {
	r := registry.New()
	for _, s := range []string{"WETH", "DAI", "USDC"} {
		r.Put(registry.NewAsset(s, s+"-usd", 7_500, nil, 0))
	}
	symbols := r.Symbols()
	want := []string{"DAI", "USDC", "WETH"}
	for i, s := range want {
		if symbols[i] != s {
			t.Fatalf("Symbols() = %v, want %v", symbols, want)
		}
	}
	if _, ok := r.Get("DOGE"); ok {
		t.Error("Get returned ok for unlisted symbol")
	}
}
