package position

import (
	"fmt"

	"LendLedger/internal/registry"
)

// CheckTotals verifies the aggregate invariant for every listed asset: the
// registry's pool totals must equal the per-position sums in the book.
// Mutating operations update both sides under one lock, so a mismatch means
// a bug, not a race.
func CheckTotals(b *Book, r *registry.Registry) error {
	for _, symbol := range r.Symbols() {
		asset, _ := r.Get(symbol)

		deposits := b.SumDeposits(symbol)
		if deposits.Cmp(asset.TotalDeposits) != 0 {
			return fmt.Errorf("asset %s: position deposits %s != pool total %s",
				symbol, deposits, asset.TotalDeposits)
		}

		shares := b.SumBorrowShares(symbol)
		if shares.Cmp(asset.TotalBorrowShares) != 0 {
			return fmt.Errorf("asset %s: position borrow shares %s != pool total %s",
				symbol, shares, asset.TotalBorrowShares)
		}
	}
	return nil
}
