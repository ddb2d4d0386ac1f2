package oracle

import (
	"fmt"
	"math/big"
	"sync"
)

// PriceDecimals is the canonical price scale: quotes carry eight decimal
// places, so a price of 1000_00000000 means 1000 USD per whole unit.
const PriceDecimals = 8

// Price is a USD quote for one whole unit of an asset.
type Price struct {
	Value    *big.Int
	Decimals uint8
}

// Normalized returns the price value rescaled to PriceDecimals.
func (p Price) Normalized() *big.Int {
	v := new(big.Int).Set(p.Value)
	switch {
	case p.Decimals < PriceDecimals:
		shift := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(PriceDecimals-p.Decimals)), nil)
		return v.Mul(v, shift)
	case p.Decimals > PriceDecimals:
		shift := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Decimals-PriceDecimals)), nil)
		return v.Quo(v, shift)
	default:
		return v
	}
}

// Source resolves oracle references to current prices. Quotes are
// expected to be positive; any caller that divides by a quote must
// reject non-positive values instead of trusting this contract.
type Source interface {
	Price(ref string) (Price, error)
}

// Static is a Source backed by an in-memory table. Prices change only
// through SetPrice, typically driven by the price feed subscriber or by
// tests steering a scenario.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]Price
}

func NewStatic() *Static {
	return &Static{quotes: make(map[string]Price)}
}

// SetPrice installs or replaces the quote for ref. Values are stored as
// given; feeds validate positivity before calling, and tests may install
// a non-positive quote to exercise rejection paths.
func (s *Static) SetPrice(ref string, value *big.Int, decimals uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[ref] = Price{Value: new(big.Int).Set(value), Decimals: decimals}
}

// SetUSD installs a whole-dollar quote for ref at the canonical scale.
func (s *Static) SetUSD(ref string, dollars int64) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)
	s.SetPrice(ref, new(big.Int).Mul(big.NewInt(dollars), scale), PriceDecimals)
}

func (s *Static) Price(ref string) (Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.quotes[ref]
	if !ok {
		return Price{}, fmt.Errorf("oracle: no price for %q", ref)
	}
	return Price{Value: new(big.Int).Set(p.Value), Decimals: p.Decimals}, nil
}
