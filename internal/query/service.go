package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	fpmath "LendLedger/internal/math"
)

// Service provides read-only access to projection tables. All responses
// include as_of_sequence so callers can reason about freshness relative to
// the engine's global sequence.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetPosition returns one account's holdings in a single asset. A position
// that was never touched comes back zeroed rather than as an error.
func (s *Service) GetPosition(ctx context.Context, account uuid.UUID, asset string) (*PositionResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &PositionResponse{
		Account:      account,
		Asset:        asset,
		Deposit:      "0",
		BorrowShares: "0",
		Debt:         "0",
		AsOfSequence: asOfSeq,
	}

	var deposit, shares string
	err = s.db.QueryRowContext(ctx, `
		SELECT deposit::TEXT, borrow_shares::TEXT
		FROM projections.positions
		WHERE account = $1 AND asset = $2
	`, account.String(), asset).Scan(&deposit, &shares)
	if err == sql.ErrNoRows {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.Deposit = deposit
	resp.BorrowShares = shares
	resp.Debt, err = s.debtFromShares(ctx, asset, shares)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetAccountPositions returns every position an account holds, ordered by asset.
func (s *Service) GetAccountPositions(ctx context.Context, account uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.asset, p.deposit::TEXT, p.borrow_shares::TEXT, a.borrow_index::TEXT
		FROM projections.positions p
		JOIN projections.assets a ON a.asset = p.asset
		WHERE p.account = $1 AND (p.deposit > 0 OR p.borrow_shares > 0)
		ORDER BY p.asset
	`, account.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		var index string
		p.Account = account
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(&p.Asset, &p.Deposit, &p.BorrowShares, &index); err != nil {
			return nil, err
		}
		p.Debt, err = computeDebt(p.BorrowShares, index)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// ListAssets returns every listed market's pool state, ordered by symbol.
func (s *Service) ListAssets(ctx context.Context) ([]AssetResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, oracle_ref, collateral_factor_bps,
		       total_deposits::TEXT, total_borrow_shares::TEXT, borrow_index::TEXT
		FROM projections.assets
		ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []AssetResponse
	for rows.Next() {
		var a AssetResponse
		a.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&a.Asset, &a.OracleRef, &a.CollateralFactorBps,
			&a.TotalDeposits, &a.TotalBorrowShares, &a.BorrowIndex,
		); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}

	return assets, rows.Err()
}

// GetLiquidations returns executed liquidations against a borrower with
// cursor-based pagination on sequence.
func (s *Service) GetLiquidations(
	ctx context.Context,
	borrower uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]LiquidationRecord, error) {
	query := `
		SELECT sequence, liquidator, borrower, debt_asset, collateral_asset,
		       repaid::TEXT, seized::TEXT, occurred_at
		FROM projections.liquidation_history
		WHERE borrower = $1
	`
	args := []interface{}{borrower.String()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LiquidationRecord
	for rows.Next() {
		var r LiquidationRecord
		var liquidator, whom string
		var occurredAt time.Time
		if err := rows.Scan(
			&r.Sequence, &liquidator, &whom, &r.DebtAsset, &r.CollateralAsset,
			&r.Repaid, &r.Seized, &occurredAt,
		); err != nil {
			return nil, err
		}
		if r.Liquidator, err = uuid.Parse(liquidator); err != nil {
			return nil, fmt.Errorf("liquidator id: %w", err)
		}
		if r.Borrower, err = uuid.Parse(whom); err != nil {
			return nil, fmt.Errorf("borrower id: %w", err)
		}
		r.OccurredAt = occurredAt.Unix()
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetEvents returns operation log entries with cursor-based pagination.
func (s *Service) GetEvents(
	ctx context.Context,
	limit int,
	beforeSequence *int64,
) ([]EventRecord, error) {
	query := `
		SELECT sequence, event_type, idempotency_key, COALESCE(asset, ''), payload, occurred_at
		FROM operation_log.events
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var occurredAt time.Time
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset, &e.Payload, &occurredAt,
		); err != nil {
			return nil, err
		}
		e.OccurredAt = occurredAt.Unix()
		events = append(events, e)
	}

	return events, rows.Err()
}

// VerifyIntegrity checks hash chain continuity in the operation log and
// scans projections for balances that went negative.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM operation_log.events e1
		JOIN operation_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT account, asset,
		       CASE WHEN deposit < 0 THEN 'deposit' ELSE 'borrow_shares' END
		FROM projections.positions
		WHERE deposit < 0 OR borrow_shares < 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var nb NegativeBalance
		var account string
		if err := balanceRows.Scan(&account, &nb.Asset, &nb.Column); err != nil {
			return nil, err
		}
		if nb.Account, err = uuid.Parse(account); err != nil {
			return nil, fmt.Errorf("account id: %w", err)
		}
		report.NegativeBalances = append(report.NegativeBalances, nb)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.NegativeBalances) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (s *Service) debtFromShares(ctx context.Context, asset, shares string) (string, error) {
	var index string
	err := s.db.QueryRowContext(ctx, `
		SELECT borrow_index::TEXT FROM projections.assets WHERE asset = $1
	`, asset).Scan(&index)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return computeDebt(shares, index)
}

// computeDebt converts projected shares to owed units at the projected index.
func computeDebt(shares, index string) (string, error) {
	sharesInt, ok := new(big.Int).SetString(shares, 10)
	if !ok {
		return "", fmt.Errorf("malformed shares %q", shares)
	}
	indexInt, ok := new(big.Int).SetString(index, 10)
	if !ok {
		return "", fmt.Errorf("malformed borrow index %q", index)
	}
	debt, err := fpmath.AmountFromShares(sharesInt, indexInt)
	if err != nil {
		return "", err
	}
	return debt.String(), nil
}
