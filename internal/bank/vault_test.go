package bank_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"LendLedger/internal/bank"
)

func TestTransferInMovesWalletToPool(t *testing.T) {
	v := bank.NewVault()
	account := uuid.New()
	v.Mint(account, "DAI", big.NewInt(100))

	if err := v.TransferIn("DAI", account, big.NewInt(60)); err != nil {
		t.Fatalf("TransferIn returned error: %v", err)
	}
	if got := v.WalletBalance(account, "DAI"); got.Int64() != 40 {
		t.Errorf("wallet balance = %s, want 40", got)
	}
	if got := v.PoolBalance("DAI"); got.Int64() != 60 {
		t.Errorf("pool balance = %s, want 60", got)
	}
}

func TestTransferInInsufficientWallet(t *testing.T) {
	v := bank.NewVault()
	account := uuid.New()
	v.Mint(account, "DAI", big.NewInt(10))

	if err := v.TransferIn("DAI", account, big.NewInt(11)); err == nil {
		t.Fatal("TransferIn over wallet balance: want error, got nil")
	}
	if got := v.WalletBalance(account, "DAI"); got.Int64() != 10 {
		t.Errorf("failed transfer mutated wallet: %s", got)
	}
	if got := v.PoolBalance("DAI"); got.Sign() != 0 {
		t.Errorf("failed transfer mutated pool: %s", got)
	}
}

func TestTransferOutInsufficientPool(t *testing.T) {
	v := bank.NewVault()
	account := uuid.New()

	if err := v.TransferOut("DAI", account, big.NewInt(1)); err == nil {
		t.Fatal("TransferOut from empty pool: want error, got nil")
	}
	if got := v.WalletBalance(account, "DAI"); got.Sign() != 0 {
		t.Errorf("failed transfer credited wallet: %s", got)
	}
}

func TestRoundTrip(t *testing.T) {
	v := bank.NewVault()
	account := uuid.New()
	v.Mint(account, "WETH", big.NewInt(5))

	if err := v.TransferIn("WETH", account, big.NewInt(5)); err != nil {
		t.Fatalf("TransferIn returned error: %v", err)
	}
	if err := v.TransferOut("WETH", account, big.NewInt(5)); err != nil {
		t.Fatalf("TransferOut returned error: %v", err)
	}
	if got := v.WalletBalance(account, "WETH"); got.Int64() != 5 {
		t.Errorf("round trip wallet balance = %s, want 5", got)
	}
}
