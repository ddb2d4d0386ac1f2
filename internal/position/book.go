package position

import (
	"math/big"
	"sort"

	"github.com/google/uuid"

	fpmath "LendLedger/internal/math"
)

// Position tracks one account's holdings in one asset. Deposits are raw
// units; borrows are index-normalized shares whose raw value is
// shares*index/1e18 at the asset's current borrow index.
type Position struct {
	Account      uuid.UUID
	Asset        string
	Deposit      *big.Int
	BorrowShares *big.Int
	Version      int64
}

// DebtAt returns the position's raw debt at the given borrow index.
func (p *Position) DebtAt(index *big.Int) (*big.Int, error) {
	return fpmath.AmountFromShares(p.BorrowShares, index)
}

type key struct {
	account uuid.UUID
	asset   string
}

// Book is the in-memory position ledger. Lookups on absent entries report
// zero balances without creating anything; entries materialize on first
// write.
type Book struct {
	positions map[key]*Position
}

func NewBook() *Book {
	return &Book{positions: make(map[key]*Position)}
}

// Get returns the position for (account, asset), or nil if none exists.
func (b *Book) Get(account uuid.UUID, asset string) *Position {
	return b.positions[key{account: account, asset: asset}]
}

// GetOrCreate returns the position for (account, asset), materializing a
// zero entry on first use.
func (b *Book) GetOrCreate(account uuid.UUID, asset string) *Position {
	k := key{account: account, asset: asset}
	if p, ok := b.positions[k]; ok {
		return p
	}
	p := &Position{
		Account:      account,
		Asset:        asset,
		Deposit:      new(big.Int),
		BorrowShares: new(big.Int),
	}
	b.positions[k] = p
	return p
}

// ForAccount returns the account's positions sorted by asset symbol so
// valuation sweeps are deterministic.
func (b *Book) ForAccount(account uuid.UUID) []*Position {
	var out []*Position
	for _, p := range b.positions {
		if p.Account == account {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// SumDeposits totals deposit balances across all accounts for one asset.
func (b *Book) SumDeposits(asset string) *big.Int {
	total := new(big.Int)
	for _, p := range b.positions {
		if p.Asset == asset {
			total.Add(total, p.Deposit)
		}
	}
	return total
}

// SumBorrowShares totals borrow shares across all accounts for one asset.
func (b *Book) SumBorrowShares(asset string) *big.Int {
	total := new(big.Int)
	for _, p := range b.positions {
		if p.Asset == asset {
			total.Add(total, p.BorrowShares)
		}
	}
	return total
}

// Len reports the number of materialized positions.
func (b *Book) Len() int {
	return len(b.positions)
}
