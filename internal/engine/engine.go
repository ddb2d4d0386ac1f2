package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/interest"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/position"
	"LendLedger/internal/registry"
	"LendLedger/internal/risk"
)

// TransferCapability moves tokens between external wallets and the pool.
// TransferIn must complete before the ledger credits anything; TransferOut
// runs against staged state and a failure aborts the commit.
type TransferCapability interface {
	TransferIn(asset string, from uuid.UUID, amount *big.Int) error
	TransferOut(asset string, to uuid.UUID, amount *big.Int) error
}

// Params are the pool-wide liquidation settings, in basis points.
type Params struct {
	// CloseFactorBps caps how much of an unhealthy position's debt one
	// liquidation may repay.
	CloseFactorBps uint64
	// LiquidationBonusBps is the liquidator's collateral discount.
	LiquidationBonusBps uint64
}

// DefaultParams mirrors the standard pool configuration: 50% close factor
// and a 10% seize bonus.
func DefaultParams() Params {
	return Params{CloseFactorBps: 5_000, LiquidationBonusBps: 1_000}
}

// Output pairs a committed operation's envelope with its typed payload for
// downstream consumers.
type Output struct {
	Envelope *event.Envelope
	Event    event.Event
}

// Engine is the serialized command processor for the pool. All mutating
// operations take one lock, follow validate, accrue, stage, transfer,
// commit order, and emit exactly one event on success.
//
// Interest accrual is exempt from rollback: it is permissionless and
// depends only on elapsed time, so a failed operation may leave the borrow
// index advanced exactly as if anyone had poked accrual first. Balances
// and shares never survive a failed operation.
type Engine struct {
	mu sync.Mutex

	registry  *registry.Registry
	book      *position.Book
	risk      *risk.Calculator
	prices    oracle.Source
	transfers TransferCapability
	access    AccessController
	params    Params

	paused   bool
	sequence int64
	hasher   *StateHasher
	now      func() time.Time

	persistChan    chan<- Output
	projectionChan chan<- Output

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewEngine(
	prices oracle.Source,
	transfers TransferCapability,
	access AccessController,
	params Params,
	persistChan, projectionChan chan<- Output,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	reg := registry.New()
	book := position.NewBook()
	return &Engine{
		registry:       reg,
		book:           book,
		risk:           risk.NewCalculator(reg, book, prices),
		prices:         prices,
		transfers:      transfers,
		access:         access,
		params:         params,
		hasher:         NewStateHasher(),
		now:            time.Now,
		persistChan:    persistChan,
		projectionChan: projectionChan,
		metrics:        metrics,
		logger:         logger,
	}
}

// SetClock replaces the engine clock. Tests drive accrual through this.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Sequence returns the next sequence the engine will assign.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// Resume restores the log position after replaying a persisted event log.
func (e *Engine) Resume(sequence int64, stateHash [32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequence = sequence
	e.hasher.SetPrevHash(stateHash)
}

func (e *Engine) gate() error {
	if e.paused {
		return ErrPaused
	}
	return nil
}

// ListAsset opens a new market. Owner only.
func (e *Engine) ListAsset(caller uuid.UUID, symbol, oracleRef string, collateralFactorBps uint64, model interest.Model) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if err := e.gate(); err != nil {
		return e.reject("list_asset", err)
	}
	if !e.access.IsOwner(caller) {
		return e.reject("list_asset", ErrUnauthorized)
	}
	if symbol == "" || oracleRef == "" {
		return e.reject("list_asset", fmt.Errorf("%w: empty symbol or oracle ref", ErrInvalidAmount))
	}
	if collateralFactorBps > 10_000 {
		return e.reject("list_asset", ErrInvalidFactor)
	}
	if _, ok := e.registry.Get(symbol); ok {
		return e.reject("list_asset", fmt.Errorf("%w: %s", ErrAlreadyListed, symbol))
	}

	e.registry.Put(registry.NewAsset(symbol, oracleRef, collateralFactorBps, model, start.Unix()))

	e.logger.Info().
		Str("asset", symbol).
		Str("oracle_ref", oracleRef).
		Uint64("collateral_factor_bps", collateralFactorBps).
		Msg("asset listed")

	e.commit("list_asset", start, &event.AssetListed{
		OperationID:         uuid.New(),
		Asset:               symbol,
		OracleRef:           oracleRef,
		CollateralFactorBps: collateralFactorBps,
	})
	return nil
}

// Deposit takes custody of amount and credits the account's collateral.
func (e *Engine) Deposit(account uuid.UUID, symbol string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if err := e.gate(); err != nil {
		return e.reject("deposit", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return e.reject("deposit", ErrInvalidAmount)
	}
	asset, ok := e.registry.Get(symbol)
	if !ok {
		return e.reject("deposit", fmt.Errorf("%w: %s", ErrUnknownAsset, symbol))
	}
	if err := asset.Accrue(start.Unix()); err != nil {
		return e.reject("deposit", err)
	}

	if err := e.transfers.TransferIn(symbol, account, amount); err != nil {
		return e.reject("deposit", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	pos := e.book.GetOrCreate(account, symbol)
	pos.Deposit.Add(pos.Deposit, amount)
	pos.Version++
	asset.TotalDeposits.Add(asset.TotalDeposits, amount)

	e.commit("deposit", start, &event.Deposited{
		OperationID: uuid.New(),
		Account:     account,
		Asset:       symbol,
		Amount:      fpmath.Clone(amount),
		NewDeposit:  fpmath.Clone(pos.Deposit),
	})
	return nil
}

// Withdraw returns collateral to the account, subject to the account
// staying healthy and the pool holding enough unlent liquidity.
func (e *Engine) Withdraw(account uuid.UUID, symbol string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if err := e.gate(); err != nil {
		return e.reject("withdraw", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return e.reject("withdraw", ErrInvalidAmount)
	}
	asset, ok := e.registry.Get(symbol)
	if !ok {
		return e.reject("withdraw", fmt.Errorf("%w: %s", ErrUnknownAsset, symbol))
	}
	if err := asset.Accrue(start.Unix()); err != nil {
		return e.reject("withdraw", err)
	}

	pos := e.book.Get(account, symbol)
	if pos == nil || pos.Deposit.Cmp(amount) < 0 {
		return e.reject("withdraw", ErrInsufficientBalance)
	}
	liquidity, err := asset.AvailableLiquidity()
	if err != nil {
		return e.reject("withdraw", err)
	}
	if liquidity.Cmp(amount) < 0 {
		return e.reject("withdraw", ErrInsufficientLiquidity)
	}

	// Stage the decrement, then verify the account stays healthy.
	pos.Deposit.Sub(pos.Deposit, amount)
	asset.TotalDeposits.Sub(asset.TotalDeposits, amount)
	rollback := func() {
		pos.Deposit.Add(pos.Deposit, amount)
		asset.TotalDeposits.Add(asset.TotalDeposits, amount)
	}

	healthy, err := e.risk.Healthy(account, start.Unix())
	if err != nil {
		rollback()
		return e.reject("withdraw", err)
	}
	if !healthy {
		rollback()
		return e.reject("withdraw", ErrHealthFactorTooLow)
	}

	if err := e.transfers.TransferOut(symbol, account, amount); err != nil {
		rollback()
		return e.reject("withdraw", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	pos.Version++

	e.commit("withdraw", start, &event.Withdrawn{
		OperationID: uuid.New(),
		Account:     account,
		Asset:       symbol,
		Amount:      fpmath.Clone(amount),
		NewDeposit:  fpmath.Clone(pos.Deposit),
	})
	return nil
}

// Borrow lends amount to the account against its collateral.
func (e *Engine) Borrow(account uuid.UUID, symbol string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if err := e.gate(); err != nil {
		return e.reject("borrow", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return e.reject("borrow", ErrInvalidAmount)
	}
	asset, ok := e.registry.Get(symbol)
	if !ok {
		return e.reject("borrow", fmt.Errorf("%w: %s", ErrUnknownAsset, symbol))
	}
	if err := asset.Accrue(start.Unix()); err != nil {
		return e.reject("borrow", err)
	}

	liquidity, err := asset.AvailableLiquidity()
	if err != nil {
		return e.reject("borrow", err)
	}
	if liquidity.Cmp(amount) < 0 {
		return e.reject("borrow", ErrInsufficientLiquidity)
	}

	shares, err := fpmath.SharesFromAmount(amount, asset.BorrowIndex)
	if err != nil {
		return e.reject("borrow", err)
	}

	// Stage the new debt, then verify the account can carry it.
	pos := e.book.GetOrCreate(account, symbol)
	pos.BorrowShares.Add(pos.BorrowShares, shares)
	asset.TotalBorrowShares.Add(asset.TotalBorrowShares, shares)
	rollback := func() {
		pos.BorrowShares.Sub(pos.BorrowShares, shares)
		asset.TotalBorrowShares.Sub(asset.TotalBorrowShares, shares)
	}

	healthy, err := e.risk.Healthy(account, start.Unix())
	if err != nil {
		rollback()
		return e.reject("borrow", err)
	}
	if !healthy {
		rollback()
		return e.reject("borrow", ErrHealthFactorTooLow)
	}

	if err := e.transfers.TransferOut(symbol, account, amount); err != nil {
		rollback()
		return e.reject("borrow", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	pos.Version++

	e.commit("borrow", start, &event.Borrowed{
		OperationID: uuid.New(),
		Account:     account,
		Asset:       symbol,
		Amount:      fpmath.Clone(amount),
		Shares:      shares,
		BorrowIndex: fpmath.Clone(asset.BorrowIndex),
	})
	return nil
}

// Repay retires up to amount of the account's debt, capped at what is
// actually owed, and returns the effective repayment.
func (e *Engine) Repay(account uuid.UUID, symbol string, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if err := e.gate(); err != nil {
		return nil, e.reject("repay", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, e.reject("repay", ErrInvalidAmount)
	}
	asset, ok := e.registry.Get(symbol)
	if !ok {
		return nil, e.reject("repay", fmt.Errorf("%w: %s", ErrUnknownAsset, symbol))
	}
	if err := asset.Accrue(start.Unix()); err != nil {
		return nil, e.reject("repay", err)
	}

	pos := e.book.Get(account, symbol)
	debt := new(big.Int)
	if pos != nil {
		var err error
		debt, err = pos.DebtAt(asset.BorrowIndex)
		if err != nil {
			return nil, e.reject("repay", err)
		}
	}
	effective := fpmath.Min(amount, debt)
	if effective.Sign() == 0 {
		return new(big.Int), nil
	}

	if err := e.transfers.TransferIn(symbol, account, effective); err != nil {
		return nil, e.reject("repay", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}

	var burn *big.Int
	if effective.Cmp(debt) == 0 {
		// Full repayment clears every share so no dust debt lingers.
		burn = fpmath.Clone(pos.BorrowShares)
	} else {
		var err error
		burn, err = fpmath.SharesFromAmount(effective, asset.BorrowIndex)
		if err != nil {
			return nil, e.reject("repay", err)
		}
		burn = fpmath.Min(burn, pos.BorrowShares)
	}
	pos.BorrowShares.Sub(pos.BorrowShares, burn)
	asset.TotalBorrowShares.Sub(asset.TotalBorrowShares, burn)
	pos.Version++

	e.commit("repay", start, &event.Repaid{
		OperationID: uuid.New(),
		Account:     account,
		Asset:       symbol,
		Amount:      fpmath.Clone(effective),
		Shares:      burn,
		BorrowIndex: fpmath.Clone(asset.BorrowIndex),
	})
	return effective, nil
}

// Liquidate lets anyone repay part of an unhealthy borrower's debt in
// exchange for discounted collateral. The repay leg is fixed at the close
// factor share of outstanding debt; the seize leg is capped at whatever
// collateral the borrower still holds, forgiving any shortfall.
func (e *Engine) Liquidate(liquidator, borrower uuid.UUID, debtSymbol, collateralSymbol string) (*big.Int, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if err := e.gate(); err != nil {
		return nil, nil, e.reject("liquidate", err)
	}
	debtAsset, ok := e.registry.Get(debtSymbol)
	if !ok {
		return nil, nil, e.reject("liquidate", fmt.Errorf("%w: %s", ErrUnknownAsset, debtSymbol))
	}
	collAsset, ok := e.registry.Get(collateralSymbol)
	if !ok {
		return nil, nil, e.reject("liquidate", fmt.Errorf("%w: %s", ErrUnknownAsset, collateralSymbol))
	}
	if err := debtAsset.Accrue(start.Unix()); err != nil {
		return nil, nil, e.reject("liquidate", err)
	}
	if err := collAsset.Accrue(start.Unix()); err != nil {
		return nil, nil, e.reject("liquidate", err)
	}

	healthy, err := e.risk.Healthy(borrower, start.Unix())
	if err != nil {
		return nil, nil, e.reject("liquidate", err)
	}
	if healthy {
		return nil, nil, e.reject("liquidate", ErrPositionHealthy)
	}

	debtPos := e.book.Get(borrower, debtSymbol)
	debt := new(big.Int)
	if debtPos != nil {
		debt, err = debtPos.DebtAt(debtAsset.BorrowIndex)
		if err != nil {
			return nil, nil, e.reject("liquidate", err)
		}
	}
	if debt.Sign() == 0 {
		return nil, nil, e.reject("liquidate", ErrPositionHealthy)
	}

	repay, err := fpmath.BpsMul(debt, e.params.CloseFactorBps)
	if err != nil {
		return nil, nil, e.reject("liquidate", err)
	}
	if repay.Sign() == 0 {
		repay = big.NewInt(1)
	}

	debtPrice, err := e.priceOf(debtAsset)
	if err != nil {
		return nil, nil, e.reject("liquidate", err)
	}
	collPrice, err := e.priceOf(collAsset)
	if err != nil {
		return nil, nil, e.reject("liquidate", err)
	}

	// Seize repay value plus bonus, in collateral units, never more than
	// the borrower holds.
	repayValue := new(big.Int).Mul(repay, debtPrice)
	seizeValue, err := fpmath.BpsMul(repayValue, 10_000+e.params.LiquidationBonusBps)
	if err != nil {
		return nil, nil, e.reject("liquidate", err)
	}
	seize := new(big.Int).Quo(seizeValue, collPrice)

	collPos := e.book.GetOrCreate(borrower, collateralSymbol)
	seize = fpmath.Min(seize, collPos.Deposit)

	burn, err := fpmath.SharesFromAmount(repay, debtAsset.BorrowIndex)
	if err != nil {
		return nil, nil, e.reject("liquidate", err)
	}
	burn = fpmath.Min(burn, debtPos.BorrowShares)

	if err := e.transfers.TransferIn(debtSymbol, liquidator, repay); err != nil {
		return nil, nil, e.reject("liquidate", fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	if seize.Sign() > 0 {
		if err := e.transfers.TransferOut(collateralSymbol, liquidator, seize); err != nil {
			// Refund the repay leg so the liquidator is made whole.
			if refundErr := e.transfers.TransferOut(debtSymbol, liquidator, repay); refundErr != nil {
				e.logger.Error().Err(refundErr).
					Str("liquidator", liquidator.String()).
					Str("asset", debtSymbol).
					Msg("refund after failed seize also failed")
			}
			return nil, nil, e.reject("liquidate", fmt.Errorf("%w: %v", ErrTransferFailed, err))
		}
	}

	debtPos.BorrowShares.Sub(debtPos.BorrowShares, burn)
	debtAsset.TotalBorrowShares.Sub(debtAsset.TotalBorrowShares, burn)
	debtPos.Version++
	collPos.Deposit.Sub(collPos.Deposit, seize)
	collAsset.TotalDeposits.Sub(collAsset.TotalDeposits, seize)
	collPos.Version++

	e.logger.Info().
		Str("liquidator", liquidator.String()).
		Str("borrower", borrower.String()).
		Str("debt_asset", debtSymbol).
		Str("collateral_asset", collateralSymbol).
		Str("repaid", repay.String()).
		Str("seized", seize.String()).
		Msg("position liquidated")
	if e.metrics != nil {
		e.metrics.Liquidations.WithLabelValues(debtSymbol, collateralSymbol).Inc()
	}

	e.commit("liquidate", start, &event.Liquidated{
		OperationID:     uuid.New(),
		Liquidator:      liquidator,
		Borrower:        borrower,
		DebtAsset:       debtSymbol,
		CollateralAsset: collateralSymbol,
		Repaid:          fpmath.Clone(repay),
		Seized:          fpmath.Clone(seize),
		SharesBurned:    fpmath.Clone(burn),
	})
	return repay, seize, nil
}

// Accrue advances one asset's borrow index to the current clock. Anyone
// may call it; pausing blocks it like every other mutation.
func (e *Engine) Accrue(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.gate(); err != nil {
		return e.reject("accrue", err)
	}
	asset, ok := e.registry.Get(symbol)
	if !ok {
		return e.reject("accrue", fmt.Errorf("%w: %s", ErrUnknownAsset, symbol))
	}
	if err := asset.Accrue(e.now().Unix()); err != nil {
		return e.reject("accrue", err)
	}
	e.observeAsset(asset)
	return nil
}

// Pause trips the circuit breaker. Owner only.
func (e *Engine) Pause(caller uuid.UUID) error {
	return e.setPaused(caller, true)
}

// Unpause clears the circuit breaker. Owner only.
func (e *Engine) Unpause(caller uuid.UUID) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller uuid.UUID, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	op := "pause"
	if !paused {
		op = "unpause"
	}
	if !e.access.IsOwner(caller) {
		return e.reject(op, ErrUnauthorized)
	}
	if e.paused == paused {
		return nil
	}
	e.paused = paused

	e.logger.Warn().Bool("paused", paused).Str("caller", caller.String()).Msg("pause state changed")
	if e.metrics != nil {
		v := 0.0
		if paused {
			v = 1.0
		}
		e.metrics.EnginePaused.Set(v)
	}

	e.commit(op, start, &event.PauseChanged{
		OperationID: uuid.New(),
		Caller:      caller,
		Paused:      paused,
	})
	return nil
}

// Paused reports the circuit breaker state.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// HealthFactor is a read: debt is valued at indexes projected to now, so
// the answer is current without writing anything, even while paused.
func (e *Engine) HealthFactor(account uuid.UUID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.risk.HealthFactor(account, e.now().Unix())
}

// DepositOf returns the account's deposit balance in symbol.
func (e *Engine) DepositOf(account uuid.UUID, symbol string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.registry.Get(symbol); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	pos := e.book.Get(account, symbol)
	if pos == nil {
		return new(big.Int), nil
	}
	return fpmath.Clone(pos.Deposit), nil
}

// BorrowOf returns the account's current debt in symbol, interest included
// up to the engine clock.
func (e *Engine) BorrowOf(account uuid.UUID, symbol string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, ok := e.registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	pos := e.book.Get(account, symbol)
	if pos == nil {
		return new(big.Int), nil
	}
	index, err := asset.ProjectedIndex(e.now().Unix())
	if err != nil {
		return nil, err
	}
	return pos.DebtAt(index)
}

// AssetInfo is a read-only snapshot of one listed market.
type AssetInfo struct {
	Symbol              string
	OracleRef           string
	CollateralFactorBps uint64
	TotalDeposits       *big.Int
	TotalBorrows        *big.Int
	BorrowIndex         *big.Int
	LastAccrualUnix     int64
}

// AssetSnapshot returns the market state with the index projected to now.
func (e *Engine) AssetSnapshot(symbol string) (AssetInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, ok := e.registry.Get(symbol)
	if !ok {
		return AssetInfo{}, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	index, err := asset.ProjectedIndex(e.now().Unix())
	if err != nil {
		return AssetInfo{}, err
	}
	borrows, err := fpmath.AmountFromShares(asset.TotalBorrowShares, index)
	if err != nil {
		return AssetInfo{}, err
	}
	return AssetInfo{
		Symbol:              asset.Symbol,
		OracleRef:           asset.OracleRef,
		CollateralFactorBps: asset.CollateralFactorBps,
		TotalDeposits:       fpmath.Clone(asset.TotalDeposits),
		TotalBorrows:        borrows,
		BorrowIndex:         index,
		LastAccrualUnix:     asset.LastAccrualUnix,
	}, nil
}

// Assets returns snapshots of every listed market.
func (e *Engine) Assets() ([]AssetInfo, error) {
	symbols := func() []string {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.registry.Symbols()
	}()
	out := make([]AssetInfo, 0, len(symbols))
	for _, s := range symbols {
		info, err := e.AssetSnapshot(s)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// CheckTotals re-validates the aggregate invariant across the whole book.
func (e *Engine) CheckTotals() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return position.CheckTotals(e.book, e.registry)
}

func (e *Engine) priceOf(asset *registry.Asset) (*big.Int, error) {
	p, err := e.prices.Price(asset.OracleRef)
	if err != nil {
		return nil, err
	}
	q := p.Normalized()
	// A zero quote still values collateral for health checks, but the
	// seize conversion divides by it.
	if q.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, asset.Symbol)
	}
	return q, nil
}

// commit assigns a sequence, extends the hash chain and fans the event out.
// Callers hold the engine lock and have already applied all state changes.
func (e *Engine) commit(op string, start time.Time, evt event.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		// Payload types are plain structs; a marshal failure is a bug.
		panic(fmt.Sprintf("FATAL: cannot encode %s event: %v", evt.EventType(), err))
	}

	digest := e.stateDigest()
	prevHash := e.hasher.PrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Asset:          evt.AssetSymbol(),
		Timestamp:      start,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++

	output := Output{Envelope: envelope, Event: evt}

	// Persistence gets a blocking send so no committed operation is lost;
	// projections get a non-blocking send and catch up from the log.
	if e.persistChan != nil {
		e.persistChan <- output
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
		}
	}

	if symbol := evt.AssetSymbol(); symbol != nil {
		if asset, ok := e.registry.Get(*symbol); ok {
			e.observeAsset(asset)
		}
	}
	if e.metrics != nil {
		e.metrics.OperationsApplied.WithLabelValues(op).Inc()
		e.metrics.OperationDuration.WithLabelValues(op).Observe(e.now().Sub(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
}

func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OperationsRejected.WithLabelValues(op, rejectionReason(err)).Inc()
	}
	e.logger.Debug().Err(err).Str("operation", op).Msg("operation rejected")
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ErrAlreadyListed):
		return "already_listed"
	case errors.Is(err, ErrInvalidFactor), errors.Is(err, ErrInvalidAmount):
		return "invalid_input"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrHealthFactorTooLow):
		return "health_factor_too_low"
	case errors.Is(err, ErrPositionHealthy):
		return "position_healthy"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrArithmeticOverflow):
		return "overflow"
	default:
		return "internal"
	}
}

// stateDigest builds canonical bytes over every asset's totals and index.
// Sorted symbols keep the digest deterministic.
func (e *Engine) stateDigest() []byte {
	symbols := e.registry.Symbols()
	sort.Strings(symbols)

	digest := make([]byte, 0, len(symbols)*96)
	for _, s := range symbols {
		asset, _ := e.registry.Get(s)
		digest = append(digest, byte(len(s)))
		digest = append(digest, s...)
		digest = appendBig(digest, asset.TotalDeposits)
		digest = appendBig(digest, asset.TotalBorrowShares)
		digest = appendBig(digest, asset.BorrowIndex)
	}
	return digest
}

func appendBig(buf []byte, v *big.Int) []byte {
	b := v.Bytes()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}

func (e *Engine) observeAsset(asset *registry.Asset) {
	if e.metrics == nil {
		return
	}
	deposits, _ := new(big.Float).SetInt(asset.TotalDeposits).Float64()
	index, _ := new(big.Float).SetInt(asset.BorrowIndex).Float64()
	e.metrics.PoolDeposits.WithLabelValues(asset.Symbol).Set(deposits)
	e.metrics.BorrowIndex.WithLabelValues(asset.Symbol).Set(index / 1e18)
}
