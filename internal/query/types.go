package query

import "github.com/google/uuid"

// PositionResponse represents one account's holdings in a single asset.
// Deposit and shares are raw units rendered as decimal strings; Debt is
// derived at query time from the projected borrow index.
type PositionResponse struct {
	Account      uuid.UUID `json:"account"`
	Asset        string    `json:"asset"`
	Deposit      string    `json:"deposit"`
	BorrowShares string    `json:"borrow_shares"`
	Debt         string    `json:"debt"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// AssetResponse represents one listed market's pool state.
type AssetResponse struct {
	Asset               string `json:"asset"`
	OracleRef           string `json:"oracle_ref"`
	CollateralFactorBps uint64 `json:"collateral_factor_bps"`
	TotalDeposits       string `json:"total_deposits"`
	TotalBorrowShares   string `json:"total_borrow_shares"`
	BorrowIndex         string `json:"borrow_index"`
	AsOfSequence        int64  `json:"as_of_sequence"`
}

// LiquidationRecord represents one executed liquidation for API queries.
type LiquidationRecord struct {
	Sequence        int64     `json:"sequence"`
	Liquidator      uuid.UUID `json:"liquidator"`
	Borrower        uuid.UUID `json:"borrower"`
	DebtAsset       string    `json:"debt_asset"`
	CollateralAsset string    `json:"collateral_asset"`
	Repaid          string    `json:"repaid"`
	Seized          string    `json:"seized"`
	OccurredAt      int64     `json:"occurred_at"`
}

// EventRecord represents one operation log entry for API queries.
type EventRecord struct {
	Sequence       int64  `json:"sequence"`
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
	Asset          string `json:"asset,omitempty"`
	Payload        []byte `json:"payload"`
	OccurredAt     int64  `json:"occurred_at"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	NegativeBalances []NegativeBalance `json:"negative_balances,omitempty"`
}

// NegativeBalance flags a projected position that went below zero.
type NegativeBalance struct {
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Column  string    `json:"column"`
}
