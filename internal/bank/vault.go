package bank

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Vault is an in-memory token custodian. Wallets hold funds outside the
// ledger; the pool holds funds the ledger has taken custody of. TransferIn
// and TransferOut satisfy the engine's transfer capability, and either leg
// fails atomically when the source balance is short.
type Vault struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]map[string]*big.Int
	pool    map[string]*big.Int
}

func NewVault() *Vault {
	return &Vault{
		wallets: make(map[uuid.UUID]map[string]*big.Int),
		pool:    make(map[string]*big.Int),
	}
}

func (v *Vault) walletBalance(account uuid.UUID, asset string) *big.Int {
	w, ok := v.wallets[account]
	if !ok {
		w = make(map[string]*big.Int)
		v.wallets[account] = w
	}
	b, ok := w[asset]
	if !ok {
		b = new(big.Int)
		w[asset] = b
	}
	return b
}

func (v *Vault) poolBalance(asset string) *big.Int {
	b, ok := v.pool[asset]
	if !ok {
		b = new(big.Int)
		v.pool[asset] = b
	}
	return b
}

// Mint credits a wallet out of thin air. Test and bootstrap helper.
func (v *Vault) Mint(account uuid.UUID, asset string, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.walletBalance(account, asset).Add(v.walletBalance(account, asset), amount)
}

// TransferIn moves amount from the account's wallet into the pool.
func (v *Vault) TransferIn(asset string, from uuid.UUID, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	wallet := v.walletBalance(from, asset)
	if wallet.Cmp(amount) < 0 {
		return fmt.Errorf("bank: wallet %s holds %s %s, cannot cover %s", from, wallet, asset, amount)
	}
	wallet.Sub(wallet, amount)
	v.poolBalance(asset).Add(v.poolBalance(asset), amount)
	return nil
}

// TransferOut moves amount from the pool into the account's wallet.
func (v *Vault) TransferOut(asset string, to uuid.UUID, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	pool := v.poolBalance(asset)
	if pool.Cmp(amount) < 0 {
		return fmt.Errorf("bank: pool holds %s %s, cannot cover %s", pool, asset, amount)
	}
	pool.Sub(pool, amount)
	v.walletBalance(to, asset).Add(v.walletBalance(to, asset), amount)
	return nil
}

// WalletBalance reports an account's external holdings of asset.
func (v *Vault) WalletBalance(account uuid.UUID, asset string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.walletBalance(account, asset))
}

// PoolBalance reports the custodied pool holdings of asset.
func (v *Vault) PoolBalance(asset string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.poolBalance(asset))
}
