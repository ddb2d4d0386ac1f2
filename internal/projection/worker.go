package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
)

// Worker updates projection tables from committed events.
// The projection channel is non-blocking with drop on the producer side.
// If projections fall behind or drop events, they can be rebuilt from the
// operation log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan engine.Output
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan engine.Output, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run consumes outputs until the context is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := w.apply(ctx, out); err != nil {
				// Projections are eventually consistent and rebuildable,
				// so a failed update is logged and skipped.
				w.logger.Warn().Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Str("event_type", out.Envelope.EventType.String()).
					Msg("projection update failed")
				continue
			}

			w.lastSeq = out.Envelope.Sequence
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.WithLabelValues(out.Envelope.EventType.String()).
					Observe(time.Since(start).Seconds())
				w.metrics.ProjectionSequence.Set(float64(w.lastSeq))
			}
		}
	}
}

// LastSequence reports the highest sequence applied so far.
func (w *Worker) LastSequence() int64 { return w.lastSeq }

func (w *Worker) apply(ctx context.Context, out engine.Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := out.Envelope.Sequence

	switch evt := out.Event.(type) {
	case *event.AssetListed:
		err = w.applyAssetListed(ctx, tx, evt, seq)
	case *event.Deposited:
		err = w.applyDeposit(ctx, tx, evt, seq)
	case *event.Withdrawn:
		err = w.applyWithdraw(ctx, tx, evt, seq)
	case *event.Borrowed:
		err = w.applyBorrow(ctx, tx, evt, seq)
	case *event.Repaid:
		err = w.applyRepay(ctx, tx, evt, seq)
	case *event.Liquidated:
		err = w.applyLiquidation(ctx, tx, evt, seq)
	default:
		// Pause flips and price updates carry no position state.
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) applyAssetListed(ctx context.Context, tx *sql.Tx, evt *event.AssetListed, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.assets
			(asset, oracle_ref, collateral_factor_bps, total_deposits, total_borrow_shares, borrow_index, last_sequence)
		VALUES ($1, $2, $3, 0, 0, $4, $5)
		ON CONFLICT (asset) DO NOTHING
	`, evt.Asset, evt.OracleRef, evt.CollateralFactorBps, fpmath.Wad.String(), seq)
	return err
}

func (w *Worker) applyDeposit(ctx context.Context, tx *sql.Tx, evt *event.Deposited, seq int64) error {
	if err := w.setDeposit(ctx, tx, evt.Account.String(), evt.Asset, evt.NewDeposit.String(), seq); err != nil {
		return fmt.Errorf("position projection: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.assets
		SET total_deposits = total_deposits + $2::NUMERIC, last_sequence = $3
		WHERE asset = $1
	`, evt.Asset, evt.Amount.String(), seq)
	return err
}

func (w *Worker) applyWithdraw(ctx context.Context, tx *sql.Tx, evt *event.Withdrawn, seq int64) error {
	if err := w.setDeposit(ctx, tx, evt.Account.String(), evt.Asset, evt.NewDeposit.String(), seq); err != nil {
		return fmt.Errorf("position projection: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.assets
		SET total_deposits = total_deposits - $2::NUMERIC, last_sequence = $3
		WHERE asset = $1
	`, evt.Asset, evt.Amount.String(), seq)
	return err
}

func (w *Worker) applyBorrow(ctx context.Context, tx *sql.Tx, evt *event.Borrowed, seq int64) error {
	if err := w.addBorrowShares(ctx, tx, evt.Account.String(), evt.Asset, evt.Shares.String(), seq); err != nil {
		return fmt.Errorf("position projection: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.assets
		SET total_borrow_shares = total_borrow_shares + $2::NUMERIC,
		    borrow_index = $3::NUMERIC,
		    last_sequence = $4
		WHERE asset = $1
	`, evt.Asset, evt.Shares.String(), evt.BorrowIndex.String(), seq)
	return err
}

func (w *Worker) applyRepay(ctx context.Context, tx *sql.Tx, evt *event.Repaid, seq int64) error {
	negShares := "-" + evt.Shares.String()
	if evt.Shares.Sign() == 0 {
		negShares = "0"
	}
	if err := w.addBorrowShares(ctx, tx, evt.Account.String(), evt.Asset, negShares, seq); err != nil {
		return fmt.Errorf("position projection: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.assets
		SET total_borrow_shares = total_borrow_shares - $2::NUMERIC,
		    borrow_index = $3::NUMERIC,
		    last_sequence = $4
		WHERE asset = $1
	`, evt.Asset, evt.Shares.String(), evt.BorrowIndex.String(), seq)
	return err
}

func (w *Worker) applyLiquidation(ctx context.Context, tx *sql.Tx, evt *event.Liquidated, seq int64) error {
	negShares := "-" + evt.SharesBurned.String()
	if evt.SharesBurned.Sign() == 0 {
		negShares = "0"
	}
	if err := w.addBorrowShares(ctx, tx, evt.Borrower.String(), evt.DebtAsset, negShares, seq); err != nil {
		return fmt.Errorf("debt projection: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.assets
		SET total_borrow_shares = total_borrow_shares - $2::NUMERIC, last_sequence = $3
		WHERE asset = $1
	`, evt.DebtAsset, evt.SharesBurned.String(), seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (account, asset, deposit, borrow_shares, last_sequence)
		VALUES ($1, $2, 0, 0, $4)
		ON CONFLICT (account, asset)
		DO UPDATE SET deposit = projections.positions.deposit - $3::NUMERIC, last_sequence = $4
	`, evt.Borrower.String(), evt.CollateralAsset, evt.Seized.String(), seq); err != nil {
		return fmt.Errorf("collateral projection: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.assets
		SET total_deposits = total_deposits - $2::NUMERIC, last_sequence = $3
		WHERE asset = $1
	`, evt.CollateralAsset, evt.Seized.String(), seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, liquidator, borrower, debt_asset, collateral_asset, repaid, seized, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, NOW())
		ON CONFLICT (sequence) DO NOTHING
	`, seq, evt.Liquidator.String(), evt.Borrower.String(), evt.DebtAsset, evt.CollateralAsset,
		evt.Repaid.String(), evt.Seized.String())
	return err
}

// setDeposit writes the absolute post-operation deposit for one position.
func (w *Worker) setDeposit(ctx context.Context, tx *sql.Tx, account, asset, deposit string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (account, asset, deposit, borrow_shares, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, 0, $4)
		ON CONFLICT (account, asset)
		DO UPDATE SET deposit = $3::NUMERIC, last_sequence = $4
	`, account, asset, deposit, seq)
	return err
}

// addBorrowShares applies a signed share delta to one position.
func (w *Worker) addBorrowShares(ctx context.Context, tx *sql.Tx, account, asset, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (account, asset, deposit, borrow_shares, last_sequence)
		VALUES ($1, $2, 0, $3::NUMERIC, $4)
		ON CONFLICT (account, asset)
		DO UPDATE SET borrow_shares = projections.positions.borrow_shares + $3::NUMERIC, last_sequence = $4
	`, account, asset, delta, seq)
	return err
}

// Rebuild truncates all projection tables so they repopulate from a replay
// of the operation log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.assets`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}
	return nil
}
