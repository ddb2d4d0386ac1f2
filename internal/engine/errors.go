package engine

import (
	"errors"

	fpmath "LendLedger/internal/math"
)

var (
	ErrUnknownAsset          = errors.New("lend ledger: unknown asset")
	ErrAlreadyListed         = errors.New("lend ledger: asset already listed")
	ErrInvalidFactor         = errors.New("lend ledger: collateral factor out of range")
	ErrInvalidAmount         = errors.New("lend ledger: amount must be positive")
	ErrInsufficientBalance   = errors.New("lend ledger: insufficient deposit balance")
	ErrInsufficientLiquidity = errors.New("lend ledger: insufficient pool liquidity")
	ErrHealthFactorTooLow    = errors.New("lend ledger: health factor too low")
	ErrPositionHealthy       = errors.New("lend ledger: position not eligible for liquidation")
	ErrTransferFailed        = errors.New("lend ledger: token transfer failed")
	ErrInvalidPrice          = errors.New("lend ledger: oracle quote not positive")
	ErrPaused                = errors.New("lend ledger: operations paused")
	ErrUnauthorized          = errors.New("lend ledger: caller not authorized")
)

// ErrArithmeticOverflow surfaces fixed-point intermediates wider than 256
// bits. It is the math package's sentinel so errors.Is works on either name.
var ErrArithmeticOverflow = fpmath.ErrOverflow
