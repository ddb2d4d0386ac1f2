package registry

import (
	"math/big"
	"sort"

	"LendLedger/internal/interest"
	fpmath "LendLedger/internal/math"
)

// Asset is one listed market: its risk parameter, pool totals and borrow
// index. Borrow totals are tracked as index-normalized shares so that a
// single index write accrues interest for every borrower at once.
type Asset struct {
	Symbol              string
	OracleRef           string
	CollateralFactorBps uint64

	TotalDeposits     *big.Int // raw units held by the pool ledger
	TotalBorrowShares *big.Int // index-normalized
	BorrowIndex       *big.Int // WAD, starts at 1e18, never decreases
	LastAccrualUnix   int64

	Model interest.Model
}

// TotalBorrows returns the raw borrowed amount implied by the current index.
func (a *Asset) TotalBorrows() (*big.Int, error) {
	return fpmath.AmountFromShares(a.TotalBorrowShares, a.BorrowIndex)
}

// AvailableLiquidity returns deposits not currently lent out.
func (a *Asset) AvailableLiquidity() (*big.Int, error) {
	borrows, err := a.TotalBorrows()
	if err != nil {
		return nil, err
	}
	avail := new(big.Int).Sub(a.TotalDeposits, borrows)
	if avail.Sign() < 0 {
		avail.SetInt64(0)
	}
	return avail, nil
}

// ProjectedIndex returns the borrow index the next accrual at nowUnix would
// produce, without mutating the asset. Read paths use this to report
// up-to-date debt while leaving stored state untouched.
func (a *Asset) ProjectedIndex(nowUnix int64) (*big.Int, error) {
	elapsed := nowUnix - a.LastAccrualUnix
	if elapsed <= 0 || a.TotalBorrowShares.Sign() == 0 {
		return fpmath.Clone(a.BorrowIndex), nil
	}
	borrows, err := a.TotalBorrows()
	if err != nil {
		return nil, err
	}
	apr := a.Model.BorrowAPR(borrows, a.TotalDeposits)
	factor := interest.Factor(apr, elapsed)
	next, err := fpmath.WadMul(a.BorrowIndex, factor)
	if err != nil {
		return nil, err
	}
	if next.Cmp(a.BorrowIndex) < 0 {
		next = fpmath.Clone(a.BorrowIndex)
	}
	return next, nil
}

// Accrue advances the borrow index to nowUnix. Zero elapsed time or an
// empty borrow book only stamps the accrual time. Share balances never
// change here; every borrower's debt grows through the index alone, so the
// pool's aggregate debt stays the sum of its parts.
func (a *Asset) Accrue(nowUnix int64) error {
	next, err := a.ProjectedIndex(nowUnix)
	if err != nil {
		return err
	}
	a.BorrowIndex = next
	if nowUnix > a.LastAccrualUnix {
		a.LastAccrualUnix = nowUnix
	}
	return nil
}

// Registry holds every listed asset keyed by symbol.
type Registry struct {
	assets map[string]*Asset
}

func New() *Registry {
	return &Registry{assets: make(map[string]*Asset)}
}

// Get looks up an asset by symbol.
func (r *Registry) Get(symbol string) (*Asset, bool) {
	a, ok := r.assets[symbol]
	return a, ok
}

// Put registers a new asset. Validation of symbol uniqueness and risk
// parameters happens in the engine before this is called.
func (r *Registry) Put(a *Asset) {
	r.assets[a.Symbol] = a
}

// Symbols returns listed symbols in sorted order for deterministic iteration.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.assets))
	for s := range r.assets {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// NewAsset builds a freshly listed asset with a unit index and empty pool.
func NewAsset(symbol, oracleRef string, collateralFactorBps uint64, model interest.Model, nowUnix int64) *Asset {
	if model == nil {
		model = interest.DefaultModel()
	}
	return &Asset{
		Symbol:              symbol,
		OracleRef:           oracleRef,
		CollateralFactorBps: collateralFactorBps,
		TotalDeposits:       new(big.Int),
		TotalBorrowShares:   new(big.Int),
		BorrowIndex:         fpmath.Clone(fpmath.Wad),
		LastAccrualUnix:     nowUnix,
		Model:               model,
	}
}
