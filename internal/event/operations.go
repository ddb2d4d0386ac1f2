package event

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// AssetListed records a new market opening.
type AssetListed struct {
	OperationID         uuid.UUID `json:"operation_id"`
	Asset               string    `json:"asset"`
	OracleRef           string    `json:"oracle_ref"`
	CollateralFactorBps uint64    `json:"collateral_factor_bps"`
}

func (e *AssetListed) IdempotencyKey() string { return e.OperationID.String() }
func (e *AssetListed) EventType() EventType   { return EventTypeAssetListed }
func (e *AssetListed) AssetSymbol() *string   { return &e.Asset }

// Deposited records collateral entering the pool.
type Deposited struct {
	OperationID uuid.UUID `json:"operation_id"`
	Account     uuid.UUID `json:"account"`
	Asset       string    `json:"asset"`
	Amount      *big.Int  `json:"amount"`
	NewDeposit  *big.Int  `json:"new_deposit"`
}

func (e *Deposited) IdempotencyKey() string { return e.OperationID.String() }
func (e *Deposited) EventType() EventType   { return EventTypeDeposited }
func (e *Deposited) AssetSymbol() *string   { return &e.Asset }

// Withdrawn records collateral leaving the pool.
type Withdrawn struct {
	OperationID uuid.UUID `json:"operation_id"`
	Account     uuid.UUID `json:"account"`
	Asset       string    `json:"asset"`
	Amount      *big.Int  `json:"amount"`
	NewDeposit  *big.Int  `json:"new_deposit"`
}

func (e *Withdrawn) IdempotencyKey() string { return e.OperationID.String() }
func (e *Withdrawn) EventType() EventType   { return EventTypeWithdrawn }
func (e *Withdrawn) AssetSymbol() *string   { return &e.Asset }

// Borrowed records new debt. Shares are index-normalized; BorrowIndex is
// the index the shares were struck at.
type Borrowed struct {
	OperationID uuid.UUID `json:"operation_id"`
	Account     uuid.UUID `json:"account"`
	Asset       string    `json:"asset"`
	Amount      *big.Int  `json:"amount"`
	Shares      *big.Int  `json:"shares"`
	BorrowIndex *big.Int  `json:"borrow_index"`
}

func (e *Borrowed) IdempotencyKey() string { return e.OperationID.String() }
func (e *Borrowed) EventType() EventType   { return EventTypeBorrowed }
func (e *Borrowed) AssetSymbol() *string   { return &e.Asset }

// Repaid records debt retirement. Amount is the effective repayment after
// capping at outstanding debt.
type Repaid struct {
	OperationID uuid.UUID `json:"operation_id"`
	Account     uuid.UUID `json:"account"`
	Asset       string    `json:"asset"`
	Amount      *big.Int  `json:"amount"`
	Shares      *big.Int  `json:"shares"`
	BorrowIndex *big.Int  `json:"borrow_index"`
}

func (e *Repaid) IdempotencyKey() string { return e.OperationID.String() }
func (e *Repaid) EventType() EventType   { return EventTypeRepaid }
func (e *Repaid) AssetSymbol() *string   { return &e.Asset }

// Liquidated records a forced deleveraging: the liquidator repaid part of
// the borrower's debt and seized discounted collateral in exchange.
type Liquidated struct {
	OperationID     uuid.UUID `json:"operation_id"`
	Liquidator      uuid.UUID `json:"liquidator"`
	Borrower        uuid.UUID `json:"borrower"`
	DebtAsset       string    `json:"debt_asset"`
	CollateralAsset string    `json:"collateral_asset"`
	Repaid          *big.Int  `json:"repaid"`
	Seized          *big.Int  `json:"seized"`
	SharesBurned    *big.Int  `json:"shares_burned"`
}

func (e *Liquidated) IdempotencyKey() string { return fmt.Sprintf("%s:liquidation", e.OperationID) }
func (e *Liquidated) EventType() EventType   { return EventTypeLiquidated }
func (e *Liquidated) AssetSymbol() *string   { return &e.DebtAsset }

// PauseChanged records the circuit breaker flipping.
type PauseChanged struct {
	OperationID uuid.UUID `json:"operation_id"`
	Caller      uuid.UUID `json:"caller"`
	Paused      bool      `json:"paused"`
}

func (e *PauseChanged) IdempotencyKey() string { return e.OperationID.String() }
func (e *PauseChanged) EventType() EventType   { return EventTypePauseChanged }
func (e *PauseChanged) AssetSymbol() *string   { return nil }
