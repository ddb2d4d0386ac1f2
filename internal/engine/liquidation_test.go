package engine_test

import (
	"errors"
	"math/big"
	"testing"

	"LendLedger/internal/engine"
	"LendLedger/internal/interest"
)

// leveragedEnv sets up a borrower holding 100 WETH at $1000 with a 70,000
// DAI debt, healthy at listing prices.
func leveragedEnv(t *testing.T) *env {
	t.Helper()
	e := newEnv(t, interest.NewFixedModelBps(0))
	e.seedLiquidity(t, wad(200_000))
	if err := e.eng.Deposit(e.borrower, "WETH", wad(100)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if err := e.eng.Borrow(e.borrower, "DAI", wad(70_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return e
}

func TestLiquidateHealthyPositionRejected(t *testing.T) {
	e := leveragedEnv(t)

	_, _, err := e.eng.Liquidate(e.liquidator, e.borrower, "DAI", "WETH")
	if !errors.Is(err, engine.ErrPositionHealthy) {
		t.Errorf("liquidating healthy position: err = %v, want ErrPositionHealthy", err)
	}
}

func TestLiquidateAfterPriceDrop(t *testing.T) {
	e := leveragedEnv(t)

	// $800 collateral: weighted value 64,000 against 70,000 debt.
	e.prices.SetUSD("weth-usd", 800)

	repaid, seized, err := e.eng.Liquidate(e.liquidator, e.borrower, "DAI", "WETH")
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// Close factor takes half the debt; the 10% bonus turns $38,500 of
	// repay value into 48.125 units at $800.
	if repaid.Cmp(wad(35_000)) != 0 {
		t.Errorf("repaid = %s, want %s", repaid, wad(35_000))
	}
	wantSeize := new(big.Int).Div(wad(385), big.NewInt(8))
	if seized.Cmp(wantSeize) != 0 {
		t.Errorf("seized = %s, want %s", seized, wantSeize)
	}

	if got := e.vault.WalletBalance(e.liquidator, "WETH"); got.Cmp(wantSeize) != 0 {
		t.Errorf("liquidator collateral wallet = %s, want %s", got, wantSeize)
	}
	wantDAI := new(big.Int).Sub(wad(1_000_000), wad(35_000))
	if got := e.vault.WalletBalance(e.liquidator, "DAI"); got.Cmp(wantDAI) != 0 {
		t.Errorf("liquidator debt wallet = %s, want %s", got, wantDAI)
	}

	debt, _ := e.eng.BorrowOf(e.borrower, "DAI")
	if debt.Cmp(wad(35_000)) != 0 {
		t.Errorf("remaining debt = %s, want %s", debt, wad(35_000))
	}
	dep, _ := e.eng.DepositOf(e.borrower, "WETH")
	wantDep := new(big.Int).Sub(wad(100), wantSeize)
	if dep.Cmp(wantDep) != 0 {
		t.Errorf("remaining collateral = %s, want %s", dep, wantDep)
	}
	e.checkTotals(t)
}

func TestLiquidateSeizeCappedAtCollateral(t *testing.T) {
	e := leveragedEnv(t)

	// Crash hard enough that the bonus seize exceeds what the borrower
	// holds; the shortfall is forgiven and the debt still shrinks.
	e.prices.SetUSD("weth-usd", 100)

	depBefore, _ := e.eng.DepositOf(e.borrower, "WETH")
	repaid, seized, err := e.eng.Liquidate(e.liquidator, e.borrower, "DAI", "WETH")
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(wad(35_000)) != 0 {
		t.Errorf("repaid = %s, want %s", repaid, wad(35_000))
	}
	if seized.Cmp(depBefore) != 0 {
		t.Errorf("seized = %s, want entire collateral %s", seized, depBefore)
	}

	dep, _ := e.eng.DepositOf(e.borrower, "WETH")
	if dep.Sign() != 0 {
		t.Errorf("collateral after capped seize = %s, want 0", dep)
	}
	debt, _ := e.eng.BorrowOf(e.borrower, "DAI")
	if debt.Cmp(wad(35_000)) != 0 {
		t.Errorf("remaining debt = %s, want %s", debt, wad(35_000))
	}
	e.checkTotals(t)
}

func TestLiquidateZeroCollateralPriceRejected(t *testing.T) {
	e := leveragedEnv(t)

	// A zero quote makes the position maximally unhealthy, but the seize
	// conversion cannot price collateral units against it.
	e.prices.SetUSD("weth-usd", 0)

	_, _, err := e.eng.Liquidate(e.liquidator, e.borrower, "DAI", "WETH")
	if !errors.Is(err, engine.ErrInvalidPrice) {
		t.Fatalf("liquidate at zero price: err = %v, want ErrInvalidPrice", err)
	}

	debt, _ := e.eng.BorrowOf(e.borrower, "DAI")
	if debt.Cmp(wad(70_000)) != 0 {
		t.Errorf("debt after rejected liquidation = %s, want %s", debt, wad(70_000))
	}
	dep, _ := e.eng.DepositOf(e.borrower, "WETH")
	if dep.Cmp(wad(100)) != 0 {
		t.Errorf("collateral after rejected liquidation = %s, want %s", dep, wad(100))
	}
	e.checkTotals(t)
}

func TestLiquidateUnknownAssets(t *testing.T) {
	e := leveragedEnv(t)
	e.prices.SetUSD("weth-usd", 100)

	if _, _, err := e.eng.Liquidate(e.liquidator, e.borrower, "DOGE", "WETH"); !errors.Is(err, engine.ErrUnknownAsset) {
		t.Errorf("unknown debt asset: err = %v, want ErrUnknownAsset", err)
	}
	if _, _, err := e.eng.Liquidate(e.liquidator, e.borrower, "DAI", "DOGE"); !errors.Is(err, engine.ErrUnknownAsset) {
		t.Errorf("unknown collateral asset: err = %v, want ErrUnknownAsset", err)
	}
}

func TestLiquidateWhilePaused(t *testing.T) {
	e := leveragedEnv(t)
	e.prices.SetUSD("weth-usd", 100)
	if err := e.eng.Pause(e.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, _, err := e.eng.Liquidate(e.liquidator, e.borrower, "DAI", "WETH"); !errors.Is(err, engine.ErrPaused) {
		t.Errorf("liquidate while paused: err = %v, want ErrPaused", err)
	}
}

func TestLiquidationImprovesHealth(t *testing.T) {
	e := leveragedEnv(t)
	e.prices.SetUSD("weth-usd", 800)

	before, err := e.eng.HealthFactor(e.borrower)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if _, _, err := e.eng.Liquidate(e.liquidator, e.borrower, "DAI", "WETH"); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	after, err := e.eng.HealthFactor(e.borrower)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if after.Cmp(before) <= 0 {
		t.Errorf("health factor did not improve: %s -> %s", before, after)
	}
}
