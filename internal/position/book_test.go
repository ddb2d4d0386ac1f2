package position_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"LendLedger/internal/interest"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/position"
	"LendLedger/internal/registry"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fpmath.Wad)
}

func TestGetAbsentPositionIsNil(t *testing.T) {
	b := position.NewBook()
	if p := b.Get(uuid.New(), "DAI"); p != nil {
		t.Errorf("Get on empty book = %+v, want nil", p)
	}
	if b.Len() != 0 {
		t.Error("Get materialized a position")
	}
}

func TestGetOrCreateMaterializesOnce(t *testing.T) {
	b := position.NewBook()
	account := uuid.New()

	p := b.GetOrCreate(account, "DAI")
	if p.Deposit.Sign() != 0 || p.BorrowShares.Sign() != 0 {
		t.Errorf("fresh position not zero: deposit=%s shares=%s", p.Deposit, p.BorrowShares)
	}
	p.Deposit.Set(wad(10))

	again := b.GetOrCreate(account, "DAI")
	if again.Deposit.Cmp(wad(10)) != 0 {
		t.Errorf("GetOrCreate did not return existing position, deposit = %s", again.Deposit)
	}
	if b.Len() != 1 {
		t.Errorf("book holds %d positions, want 1", b.Len())
	}
}

func TestForAccountSortedByAsset(t *testing.T) {
	b := position.NewBook()
	account := uuid.New()
	other := uuid.New()
	for _, asset := range []string{"WETH", "DAI", "USDC"} {
		b.GetOrCreate(account, asset)
	}
	b.GetOrCreate(other, "DAI")

	got := b.ForAccount(account)
	if len(got) != 3 {
		t.Fatalf("ForAccount returned %d positions, want 3", len(got))
	}
	want := []string{"DAI", "USDC", "WETH"}
	for i, p := range got {
		if p.Asset != want[i] {
			t.Fatalf("position order %v, want %v", got, want)
		}
	}
}

func TestDebtAtScalesWithIndex(t *testing.T) {
	p := &position.Position{
		Account:      uuid.New(),
		Asset:        "DAI",
		Deposit:      new(big.Int),
		BorrowShares: wad(40),
	}
	// Index of 1.1: debt is 44.
	index := new(big.Int).Add(fpmath.Wad, new(big.Int).Div(fpmath.Wad, big.NewInt(10)))
	debt, err := p.DebtAt(index)
	if err != nil {
		t.Fatalf("DebtAt returned error: %v", err)
	}
	if debt.Cmp(wad(44)) != 0 {
		t.Errorf("debt at index 1.1 = %s, want %s", debt, wad(44))
	}
}

func TestCheckTotals(t *testing.T) {
	r := registry.New()
	asset := registry.NewAsset("DAI", "dai-usd", 8_000, interest.NewFixedModelBps(0), 0)
	r.Put(asset)

	b := position.NewBook()
	p1 := b.GetOrCreate(uuid.New(), "DAI")
	p1.Deposit.Set(wad(60))
	p2 := b.GetOrCreate(uuid.New(), "DAI")
	p2.Deposit.Set(wad(40))
	p2.BorrowShares.Set(wad(5))

	asset.TotalDeposits = wad(100)
	asset.TotalBorrowShares = wad(5)
	if err := position.CheckTotals(b, r); err != nil {
		t.Errorf("CheckTotals on balanced book: %v", err)
	}

	asset.TotalDeposits = wad(99)
	if err := position.CheckTotals(b, r); err == nil {
		t.Error("CheckTotals missed a deposit total mismatch")
	}
}
