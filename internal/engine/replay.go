package engine

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/registry"
)

// ReplayEvent is one persisted log entry fed back through the engine on
// startup.
type ReplayEvent struct {
	Sequence  int64
	EventType string
	Payload   []byte
	StateHash [32]byte
	Timestamp time.Time
}

// Replay rebuilds in-memory state from a persisted event. Events must be
// applied in sequence order starting from an empty engine; no transfers run
// and nothing is re-emitted. Listed assets come back with the default
// interest model since model configuration is operator-supplied, not logged.
func (e *Engine) Replay(rec ReplayEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rec.Sequence != e.sequence {
		return fmt.Errorf("replay out of order: got sequence %d, want %d", rec.Sequence, e.sequence)
	}

	switch event.ParseEventType(rec.EventType) {
	case event.EventTypeAssetListed:
		var evt event.AssetListed
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s at %d: %w", rec.EventType, rec.Sequence, err)
		}
		e.registry.Put(registry.NewAsset(evt.Asset, evt.OracleRef, evt.CollateralFactorBps, nil, rec.Timestamp.Unix()))

	case event.EventTypeDeposited:
		var evt event.Deposited
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s at %d: %w", rec.EventType, rec.Sequence, err)
		}
		asset, ok := e.registry.Get(evt.Asset)
		if !ok {
			return fmt.Errorf("replay deposit at %d: unlisted asset %s", rec.Sequence, evt.Asset)
		}
		pos := e.book.GetOrCreate(evt.Account, evt.Asset)
		pos.Deposit.Set(evt.NewDeposit)
		pos.Version++
		asset.TotalDeposits.Add(asset.TotalDeposits, evt.Amount)

	case event.EventTypeWithdrawn:
		var evt event.Withdrawn
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s at %d: %w", rec.EventType, rec.Sequence, err)
		}
		asset, ok := e.registry.Get(evt.Asset)
		if !ok {
			return fmt.Errorf("replay withdraw at %d: unlisted asset %s", rec.Sequence, evt.Asset)
		}
		pos := e.book.GetOrCreate(evt.Account, evt.Asset)
		pos.Deposit.Set(evt.NewDeposit)
		pos.Version++
		asset.TotalDeposits.Sub(asset.TotalDeposits, evt.Amount)

	case event.EventTypeBorrowed:
		var evt event.Borrowed
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s at %d: %w", rec.EventType, rec.Sequence, err)
		}
		asset, ok := e.registry.Get(evt.Asset)
		if !ok {
			return fmt.Errorf("replay borrow at %d: unlisted asset %s", rec.Sequence, evt.Asset)
		}
		pos := e.book.GetOrCreate(evt.Account, evt.Asset)
		pos.BorrowShares.Add(pos.BorrowShares, evt.Shares)
		pos.Version++
		asset.TotalBorrowShares.Add(asset.TotalBorrowShares, evt.Shares)
		restoreIndex(asset, evt.BorrowIndex, rec.Timestamp)

	case event.EventTypeRepaid:
		var evt event.Repaid
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s at %d: %w", rec.EventType, rec.Sequence, err)
		}
		asset, ok := e.registry.Get(evt.Asset)
		if !ok {
			return fmt.Errorf("replay repay at %d: unlisted asset %s", rec.Sequence, evt.Asset)
		}
		pos := e.book.GetOrCreate(evt.Account, evt.Asset)
		pos.BorrowShares.Sub(pos.BorrowShares, evt.Shares)
		pos.Version++
		asset.TotalBorrowShares.Sub(asset.TotalBorrowShares, evt.Shares)
		restoreIndex(asset, evt.BorrowIndex, rec.Timestamp)

	case event.EventTypeLiquidated:
		var evt event.Liquidated
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s at %d: %w", rec.EventType, rec.Sequence, err)
		}
		debtAsset, ok := e.registry.Get(evt.DebtAsset)
		if !ok {
			return fmt.Errorf("replay liquidation at %d: unlisted asset %s", rec.Sequence, evt.DebtAsset)
		}
		collAsset, ok := e.registry.Get(evt.CollateralAsset)
		if !ok {
			return fmt.Errorf("replay liquidation at %d: unlisted asset %s", rec.Sequence, evt.CollateralAsset)
		}
		debtPos := e.book.GetOrCreate(evt.Borrower, evt.DebtAsset)
		debtPos.BorrowShares.Sub(debtPos.BorrowShares, evt.SharesBurned)
		debtPos.Version++
		debtAsset.TotalBorrowShares.Sub(debtAsset.TotalBorrowShares, evt.SharesBurned)
		collPos := e.book.GetOrCreate(evt.Borrower, evt.CollateralAsset)
		collPos.Deposit.Sub(collPos.Deposit, evt.Seized)
		collPos.Version++
		collAsset.TotalDeposits.Sub(collAsset.TotalDeposits, evt.Seized)

	case event.EventTypePauseChanged:
		var evt event.PauseChanged
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s at %d: %w", rec.EventType, rec.Sequence, err)
		}
		e.paused = evt.Paused

	default:
		return fmt.Errorf("replay at %d: unknown event type %q", rec.Sequence, rec.EventType)
	}

	e.sequence = rec.Sequence + 1
	e.hasher.SetPrevHash(rec.StateHash)
	return nil
}

// restoreIndex fast-forwards the borrow index to the value the event was
// struck at. The index is monotonic so a stale event never rewinds it.
func restoreIndex(asset *registry.Asset, index *big.Int, at time.Time) {
	if index == nil || asset.BorrowIndex.Cmp(index) >= 0 {
		return
	}
	asset.BorrowIndex = fpmath.Clone(index)
	asset.LastAccrualUnix = at.Unix()
}
