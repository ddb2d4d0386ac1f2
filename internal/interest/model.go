package interest

import (
	"math/big"

	fpmath "LendLedger/internal/math"
)

// SecondsPerYear converts annualized rates to per-second rates.
const SecondsPerYear = 365 * 24 * 60 * 60

// Model prices borrow interest. Implementations return an annualized rate as
// an exact rational so accrual can scale it by elapsed seconds without
// float drift.
type Model interface {
	// BorrowAPR returns the annual borrow rate for the given pool state.
	BorrowAPR(totalBorrows, totalDeposits *big.Int) *big.Rat
}

// FixedModel charges the same annual rate at every utilisation level.
type FixedModel struct {
	apr *big.Rat
}

// NewFixedModelBps builds a flat-rate model from an annual rate in basis
// points, e.g. 500 for 5% APR.
func NewFixedModelBps(bps int64) *FixedModel {
	return &FixedModel{apr: big.NewRat(bps, 10_000)}
}

func (m *FixedModel) BorrowAPR(_, _ *big.Int) *big.Rat {
	return new(big.Rat).Set(m.apr)
}

// KinkedModel charges Base + Slope1*u below the kink and adds Slope2 on the
// excess utilisation above it.
type KinkedModel struct {
	Base   *big.Rat
	Slope1 *big.Rat
	Slope2 *big.Rat
	Kink   *big.Rat
}

// NewKinkedModelBps builds a kinked model from basis-point parameters.
func NewKinkedModelBps(baseBps, slope1Bps, slope2Bps, kinkBps int64) *KinkedModel {
	return &KinkedModel{
		Base:   big.NewRat(baseBps, 10_000),
		Slope1: big.NewRat(slope1Bps, 10_000),
		Slope2: big.NewRat(slope2Bps, 10_000),
		Kink:   big.NewRat(kinkBps, 10_000),
	}
}

// DefaultModel is the pool model used when an asset is listed without an
// explicit one: 2% base, 15% slope to an 80% kink, 60% jump slope above it.
func DefaultModel() *KinkedModel {
	return NewKinkedModelBps(200, 1_500, 6_000, 8_000)
}

// Utilisation returns borrows/deposits, zero when the pool is empty.
func Utilisation(totalBorrows, totalDeposits *big.Int) *big.Rat {
	if totalDeposits == nil || totalDeposits.Sign() == 0 {
		return new(big.Rat)
	}
	if totalBorrows == nil || totalBorrows.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(new(big.Int).Set(totalBorrows), new(big.Int).Set(totalDeposits))
}

func (m *KinkedModel) BorrowAPR(totalBorrows, totalDeposits *big.Int) *big.Rat {
	u := Utilisation(totalBorrows, totalDeposits)
	apr := new(big.Rat).Set(m.Base)
	if u.Cmp(m.Kink) <= 0 {
		apr.Add(apr, new(big.Rat).Mul(m.Slope1, u))
		return apr
	}
	apr.Add(apr, new(big.Rat).Mul(m.Slope1, m.Kink))
	excess := new(big.Rat).Sub(u, m.Kink)
	apr.Add(apr, new(big.Rat).Mul(m.Slope2, excess))
	return apr
}

// Factor returns the WAD growth multiplier 1 + apr*elapsed/SecondsPerYear.
// Accrual applies simple interest per call; compounding happens across
// calls as each accrual scales the already-grown index.
func Factor(apr *big.Rat, elapsedSeconds int64) *big.Int {
	if apr == nil || apr.Sign() <= 0 || elapsedSeconds <= 0 {
		return fpmath.Clone(fpmath.Wad)
	}
	growth := new(big.Rat).Mul(apr, big.NewRat(elapsedSeconds, SecondsPerYear))
	scaled := new(big.Rat).Mul(growth, new(big.Rat).SetInt(fpmath.Wad))
	increment := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	return new(big.Int).Add(fpmath.Wad, increment)
}
