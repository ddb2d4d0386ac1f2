package query_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/persistence"
	"LendLedger/internal/query"
	"LendLedger/internal/testutil"
)

const testWad = "1000000000000000000"

func setupQueryDB(t *testing.T) (*sql.DB, *query.Service, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	m := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := m.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return db, query.NewService(db), cleanup
}

func seedAsset(t *testing.T, db *sql.DB, asset, borrowIndex string) {
	t.Helper()
	if _, err := db.Exec(`
		INSERT INTO projections.assets
			(asset, oracle_ref, collateral_factor_bps, total_deposits, total_borrow_shares, borrow_index, last_sequence)
		VALUES ($1, $2, 7500, 0, 0, $3::NUMERIC, 0)
	`, asset, asset+"-usd", borrowIndex); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
}

func seedPosition(t *testing.T, db *sql.DB, account uuid.UUID, asset, deposit, shares string) {
	t.Helper()
	if _, err := db.Exec(`
		INSERT INTO projections.positions (account, asset, deposit, borrow_shares, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, 0)
	`, account.String(), asset, deposit, shares); err != nil {
		t.Fatalf("seed position: %v", err)
	}
}

func TestGetPositionComputesDebt(t *testing.T) {
	db, svc, cleanup := setupQueryDB(t)
	defer cleanup()

	account := uuid.New()
	// Index of 2.0 doubles every share into owed units.
	seedAsset(t, db, "DAI", "2000000000000000000")
	seedPosition(t, db, account, "DAI", "10000000000000000000", "5000000000000000000")
	if _, err := db.Exec(`
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', 7, NOW())
	`); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	pos, err := svc.GetPosition(context.Background(), account, "DAI")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Debt != "10000000000000000000" {
		t.Errorf("Debt = %s, want 10000000000000000000", pos.Debt)
	}
	if pos.BorrowShares != "5000000000000000000" {
		t.Errorf("BorrowShares = %s", pos.BorrowShares)
	}
	if pos.AsOfSequence != 7 {
		t.Errorf("AsOfSequence = %d, want 7", pos.AsOfSequence)
	}
}

func TestGetPositionUnknownAccountIsZeroed(t *testing.T) {
	db, svc, cleanup := setupQueryDB(t)
	defer cleanup()
	seedAsset(t, db, "DAI", testWad)

	pos, err := svc.GetPosition(context.Background(), uuid.New(), "DAI")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Deposit != "0" || pos.BorrowShares != "0" || pos.Debt != "0" {
		t.Errorf("untouched position = %+v, want all zero", pos)
	}
}

func TestGetAccountPositionsSkipsEmptyRows(t *testing.T) {
	db, svc, cleanup := setupQueryDB(t)
	defer cleanup()

	account := uuid.New()
	seedAsset(t, db, "DAI", testWad)
	seedAsset(t, db, "WETH", testWad)
	seedPosition(t, db, account, "DAI", "0", "0")
	seedPosition(t, db, account, "WETH", testWad, "0")

	positions, err := svc.GetAccountPositions(context.Background(), account)
	if err != nil {
		t.Fatalf("GetAccountPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if positions[0].Asset != "WETH" {
		t.Errorf("asset = %s, want WETH", positions[0].Asset)
	}
}

func TestGetLiquidationsPagination(t *testing.T) {
	db, svc, cleanup := setupQueryDB(t)
	defer cleanup()

	borrower := uuid.New()
	liquidator := uuid.New()
	for seq := int64(1); seq <= 3; seq++ {
		if _, err := db.Exec(`
			INSERT INTO projections.liquidation_history
				(sequence, liquidator, borrower, debt_asset, collateral_asset, repaid, seized, occurred_at)
			VALUES ($1, $2, $3, 'DAI', 'WETH', 100, 110, NOW())
		`, seq, liquidator.String(), borrower.String()); err != nil {
			t.Fatalf("seed liquidation %d: %v", seq, err)
		}
	}

	page, err := svc.GetLiquidations(context.Background(), borrower, 2, nil)
	if err != nil {
		t.Fatalf("GetLiquidations: %v", err)
	}
	if len(page) != 2 || page[0].Sequence != 3 || page[1].Sequence != 2 {
		t.Fatalf("first page = %+v, want sequences 3, 2", page)
	}

	before := page[1].Sequence
	page, err = svc.GetLiquidations(context.Background(), borrower, 2, &before)
	if err != nil {
		t.Fatalf("GetLiquidations page 2: %v", err)
	}
	if len(page) != 1 || page[0].Sequence != 1 {
		t.Fatalf("second page = %+v, want single record at sequence 1", page)
	}
}

func TestVerifyIntegrity(t *testing.T) {
	db, svc, cleanup := setupQueryDB(t)
	defer cleanup()

	insertEvent := func(seq int64, state, prev byte) {
		stateHash := make([]byte, 32)
		prevHash := make([]byte, 32)
		stateHash[0] = state
		prevHash[0] = prev
		if _, err := db.Exec(`
			INSERT INTO operation_log.events
				(sequence, event_type, idempotency_key, asset, payload, state_hash, prev_hash, occurred_at)
			VALUES ($1, 'Deposited', $2, 'DAI', '{}', $3, $4, NOW())
		`, seq, uuid.New().String(), stateHash, prevHash); err != nil {
			t.Fatalf("seed event %d: %v", seq, err)
		}
	}

	insertEvent(0, 0x01, 0x00)
	insertEvent(1, 0x02, 0x01)

	report, err := svc.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("intact chain reported unhealthy: %+v", report)
	}

	// Break the chain and drive a balance negative.
	insertEvent(2, 0x03, 0xff)
	seedAsset(t, db, "DAI", testWad)
	seedPosition(t, db, uuid.New(), "DAI", "-1", "0")

	report, err = svc.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if report.IsHealthy {
		t.Error("broken state reported healthy")
	}
	if len(report.HashChainBreaks) != 1 || report.HashChainBreaks[0] != 2 {
		t.Errorf("HashChainBreaks = %v, want [2]", report.HashChainBreaks)
	}
	if len(report.NegativeBalances) != 1 || report.NegativeBalances[0].Column != "deposit" {
		t.Errorf("NegativeBalances = %+v, want one deposit entry", report.NegativeBalances)
	}
}
