package risk

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	fpmath "LendLedger/internal/math"
	"LendLedger/internal/oracle"
	"LendLedger/internal/position"
	"LendLedger/internal/registry"
)

// MaxHealthFactor is the sentinel for accounts with no debt. Any
// comparison against the liquidation threshold treats it as unreachable.
var MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// HealthyThreshold is the WAD ratio at which an account becomes eligible
// for liquidation: health below 1.0 means undercollateralized.
var HealthyThreshold = fpmath.Clone(fpmath.Wad)

// Calculator values accounts against live oracle prices.
type Calculator struct {
	registry *registry.Registry
	book     *position.Book
	prices   oracle.Source
}

func NewCalculator(reg *registry.Registry, book *position.Book, prices oracle.Source) *Calculator {
	return &Calculator{registry: reg, book: book, prices: prices}
}

// AccountValue is the valuation snapshot behind one health factor reading.
type AccountValue struct {
	// CollateralValue is the factor-weighted USD value of all deposits.
	CollateralValue *big.Int
	// DebtValue is the USD value of all debt at indexes projected to nowUnix.
	DebtValue *big.Int
}

// ValueAccount sweeps the account's positions and prices both sides of its
// balance sheet. Debt is valued at each asset's index projected to nowUnix
// so readings stay current without writing to the registry.
func (c *Calculator) ValueAccount(account uuid.UUID, nowUnix int64) (AccountValue, error) {
	collateral := new(big.Int)
	debt := new(big.Int)

	for _, pos := range c.book.ForAccount(account) {
		if pos.Deposit.Sign() == 0 && pos.BorrowShares.Sign() == 0 {
			continue
		}
		asset, ok := c.registry.Get(pos.Asset)
		if !ok {
			return AccountValue{}, fmt.Errorf("risk: position references unlisted asset %q", pos.Asset)
		}
		price, err := c.prices.Price(asset.OracleRef)
		if err != nil {
			return AccountValue{}, fmt.Errorf("risk: pricing %s: %w", pos.Asset, err)
		}
		quote := price.Normalized()

		if pos.Deposit.Sign() > 0 {
			value := new(big.Int).Mul(pos.Deposit, quote)
			weighted, err := fpmath.BpsMul(value, asset.CollateralFactorBps)
			if err != nil {
				return AccountValue{}, err
			}
			collateral.Add(collateral, weighted)
		}

		if pos.BorrowShares.Sign() > 0 {
			index, err := asset.ProjectedIndex(nowUnix)
			if err != nil {
				return AccountValue{}, err
			}
			owed, err := pos.DebtAt(index)
			if err != nil {
				return AccountValue{}, err
			}
			debt.Add(debt, new(big.Int).Mul(owed, quote))
		}
	}

	return AccountValue{CollateralValue: collateral, DebtValue: debt}, nil
}

// HealthFactor returns weightedCollateral/debt in WAD terms, or
// MaxHealthFactor when the account owes nothing.
func (c *Calculator) HealthFactor(account uuid.UUID, nowUnix int64) (*big.Int, error) {
	v, err := c.ValueAccount(account, nowUnix)
	if err != nil {
		return nil, err
	}
	if v.DebtValue.Sign() == 0 {
		return fpmath.Clone(MaxHealthFactor), nil
	}
	return fpmath.MulDiv(v.CollateralValue, fpmath.Wad, v.DebtValue)
}

// Healthy reports whether the account is at or above the liquidation
// threshold.
func (c *Calculator) Healthy(account uuid.UUID, nowUnix int64) (bool, error) {
	hf, err := c.HealthFactor(account, nowUnix)
	if err != nil {
		return false, err
	}
	return hf.Cmp(HealthyThreshold) >= 0, nil
}
