package math

import (
	"errors"
	"math/big"
)

// All balances and amounts are raw asset units carried as big.Int. Index and
// health-factor values are WAD fixed-point: 1e18 represents 1.0. Risk
// parameters (collateral factors, close factor, liquidation bonus) are basis
// points out of 10_000.
var (
	// Wad is the fixed-point unit for indexes and ratios.
	Wad = big.NewInt(1_000_000_000_000_000_000)

	halfWad = big.NewInt(500_000_000_000_000_000)

	// BpsDenominator converts basis-point parameters to fractions.
	BpsDenominator = big.NewInt(10_000)
)

// maxIntermediateBits bounds every intermediate product. Inputs that would
// push a product past this width fail with ErrOverflow instead of silently
// producing a huge result.
const maxIntermediateBits = 256

// ErrOverflow reports an intermediate value wider than 256 bits.
var ErrOverflow = errors.New("fixedpoint: intermediate value exceeds 256 bits")

// WadMul returns a*b/1e18 rounded half up.
func WadMul(a, b *big.Int) (*big.Int, error) {
	product := new(big.Int).Mul(a, b)
	if product.BitLen() > maxIntermediateBits {
		return nil, ErrOverflow
	}
	product.Add(product, halfWad)
	return product.Quo(product, Wad), nil
}

// WadDiv returns a*1e18/b rounded half up. b must be positive.
func WadDiv(a, b *big.Int) (*big.Int, error) {
	if b.Sign() <= 0 {
		return nil, errors.New("fixedpoint: division by non-positive value")
	}
	scaled := new(big.Int).Mul(a, Wad)
	if scaled.BitLen() > maxIntermediateBits {
		return nil, ErrOverflow
	}
	half := new(big.Int).Rsh(b, 1)
	scaled.Add(scaled, half)
	return scaled.Quo(scaled, b), nil
}

// MulDiv returns a*b/den with truncation. den must be positive.
func MulDiv(a, b, den *big.Int) (*big.Int, error) {
	if den.Sign() <= 0 {
		return nil, errors.New("fixedpoint: division by non-positive value")
	}
	product := new(big.Int).Mul(a, b)
	if product.BitLen() > maxIntermediateBits {
		return nil, ErrOverflow
	}
	return product.Quo(product, den), nil
}

// BpsMul returns a*bps/10_000 truncated, matching how on-ledger risk
// parameters scale values.
func BpsMul(a *big.Int, bps uint64) (*big.Int, error) {
	return MulDiv(a, new(big.Int).SetUint64(bps), BpsDenominator)
}

// SharesFromAmount converts a raw borrow amount into index-normalized debt
// shares at the given borrow index. A positive amount always yields at least
// one share so that no borrow can round to zero recorded debt.
func SharesFromAmount(amount, index *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	shares, err := WadDiv(amount, index)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		shares.SetInt64(1)
	}
	return shares, nil
}

// AmountFromShares converts debt shares back into a raw amount at the given
// borrow index.
func AmountFromShares(shares, index *big.Int) (*big.Int, error) {
	return WadMul(shares, index)
}

// Clone returns an independent copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
